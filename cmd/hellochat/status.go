package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/hellochat/pkg/config"
)

// dataStats are the counters read from the database.
type dataStats struct {
	Users             int64  `json:"users"`
	Conversations     int64  `json:"conversations"`
	Messages          int64  `json:"messages"`
	UnseenMessages    int64  `json:"unseen_messages"`
	ImageMessages     int64  `json:"image_messages"`
	PushSubscriptions int64  `json:"push_subscriptions"`
	MessagesLast24h   int64  `json:"messages_last_24h"`
	LatestMessageAt   string `json:"latest_message_at"`
}

type storageStats struct {
	DBBytes         int64 `json:"db_file_bytes"`
	WALBytes        int64 `json:"db_wal_bytes"`
	SHMBytes        int64 `json:"db_shm_bytes"`
	UploadBytes     int64 `json:"upload_dir_bytes"`
	UploadFileCount int64 `json:"upload_file_count"`
}

func (s storageStats) footprint() int64 {
	return s.DBBytes + s.WALBytes + s.SHMBytes
}

type appStatus struct {
	GeneratedAt     time.Time    `json:"generated_at"`
	Environment     string       `json:"environment"`
	Port            string       `json:"port"`
	DatabasePath    string       `json:"database_path"`
	FileStoragePath string       `json:"file_storage_path"`
	MetricsReady    bool         `json:"metrics_ready"`
	Data            dataStats    `json:"metrics"`
	Storage         storageStats `json:"storage"`
	Warnings        []string     `json:"warnings"`
}

type statusOptions struct {
	JSON bool
}

func parseStatusArgs(args []string) (statusOptions, error) {
	opts := statusOptions{}
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			opts.JSON = true
		default:
			return opts, fmt.Errorf("unknown status flag: %s", arg)
		}
	}
	return opts, nil
}

func runStatus(cfg *config.Config, out io.Writer, args []string) error {
	opts, err := parseStatusArgs(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := collectStatus(ctx, cfg)
	if opts.JSON {
		return printStatusJSON(out, status)
	}
	return printStatus(out, status)
}

// collectStatus never fails; problems end up in Warnings and leave
// MetricsReady false.
func collectStatus(ctx context.Context, cfg *config.Config) appStatus {
	status := appStatus{
		GeneratedAt:     time.Now(),
		Environment:     cfg.Environment,
		Port:            cfg.Port,
		DatabasePath:    cfg.DatabasePath,
		FileStoragePath: cfg.FileStoragePath,
		Warnings:        []string{},
	}
	warn := func(format string, args ...any) {
		status.Warnings = append(status.Warnings, fmt.Sprintf(format, args...))
	}

	status.Storage.DBBytes, _ = fileSize(cfg.DatabasePath)
	status.Storage.WALBytes, _ = fileSize(cfg.DatabasePath + "-wal")
	status.Storage.SHMBytes, _ = fileSize(cfg.DatabasePath + "-shm")

	var err error
	status.Storage.UploadBytes, status.Storage.UploadFileCount, err = dirUsage(cfg.FileStoragePath)
	if err != nil {
		warn("upload dir: %v", err)
	}

	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		warn("database unavailable: %v", err)
		return status
	}
	conn, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		warn("database unavailable: %v", err)
		return status
	}
	defer conn.Close()

	if err := readDataStats(ctx, conn, &status.Data); err != nil {
		warn("could not read database stats: %v", err)
		return status
	}
	status.MetricsReady = true
	return status
}

func readDataStats(ctx context.Context, conn *sql.DB, d *dataStats) error {
	counters := []struct {
		dest  *int64
		query string
	}{
		{&d.Users, "SELECT COUNT(*) FROM users"},
		{&d.Conversations, `SELECT COUNT(*) FROM (
			SELECT DISTINCT MIN(sender_id, receiver_id), MAX(sender_id, receiver_id) FROM messages
		)`},
		{&d.Messages, "SELECT COUNT(*) FROM messages"},
		{&d.UnseenMessages, "SELECT COUNT(*) FROM messages WHERE seen = 0"},
		{&d.ImageMessages, "SELECT COUNT(*) FROM messages WHERE image_url != ''"},
		{&d.PushSubscriptions, "SELECT COUNT(*) FROM push_subscriptions WHERE revoked_at IS NULL"},
		{&d.MessagesLast24h, "SELECT COUNT(*) FROM messages WHERE datetime(created_at) >= datetime('now', '-1 day')"},
	}
	for _, c := range counters {
		if err := conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return err
		}
	}

	var latest sql.NullString
	if err := conn.QueryRowContext(ctx, "SELECT MAX(created_at) FROM messages").Scan(&latest); err != nil {
		return err
	}
	d.LatestMessageAt = latest.String
	return nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// dirUsage sums the size and count of regular files under root.
func dirUsage(root string) (size int64, files int64, err error) {
	err = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		files++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return size, files, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTimestamp(value string) string {
	if value == "" {
		return "n/a"
	}
	return value
}

func printStatus(out io.Writer, s appStatus) error {
	tw := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)

	fmt.Fprintln(tw, "HelloChat Status")
	fmt.Fprintf(tw, "Generated at\t: %s\n", s.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Environment\t: %s\n", s.Environment)
	fmt.Fprintf(tw, "Port\t: %s\n", s.Port)
	fmt.Fprintf(tw, "Database\t: %s\n", s.DatabasePath)
	fmt.Fprintf(tw, "Uploads dir\t: %s\n", s.FileStoragePath)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Data")
	if s.MetricsReady {
		fmt.Fprintf(tw, "  Users\t: %d\n", s.Data.Users)
		fmt.Fprintf(tw, "  Conversations\t: %d\n", s.Data.Conversations)
		fmt.Fprintf(tw, "  Messages\t: %d\n", s.Data.Messages)
		fmt.Fprintf(tw, "  Unseen messages\t: %d\n", s.Data.UnseenMessages)
		fmt.Fprintf(tw, "  Image messages\t: %d\n", s.Data.ImageMessages)
		fmt.Fprintf(tw, "  Push subscriptions\t: %d\n", s.Data.PushSubscriptions)
		fmt.Fprintf(tw, "  Messages last 24h\t: %d\n", s.Data.MessagesLast24h)
		fmt.Fprintf(tw, "  Latest message at\t: %s\n", formatTimestamp(s.Data.LatestMessageAt))
	} else {
		fmt.Fprintln(tw, "  Database metrics\t: n/a")
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Storage")
	fmt.Fprintf(tw, "  DB file\t: %s\n", formatBytes(s.Storage.DBBytes))
	fmt.Fprintf(tw, "  DB WAL file\t: %s\n", formatBytes(s.Storage.WALBytes))
	fmt.Fprintf(tw, "  DB SHM file\t: %s\n", formatBytes(s.Storage.SHMBytes))
	fmt.Fprintf(tw, "  DB footprint\t: %s\n", formatBytes(s.Storage.footprint()))
	fmt.Fprintf(tw, "  Upload files\t: %d\n", s.Storage.UploadFileCount)
	fmt.Fprintf(tw, "  Upload size\t: %s\n", formatBytes(s.Storage.UploadBytes))

	if len(s.Warnings) > 0 {
		fmt.Fprintln(tw)
		for _, w := range s.Warnings {
			fmt.Fprintf(tw, "Warning: %s\n", w)
		}
	}
	return tw.Flush()
}

func printStatusJSON(out io.Writer, s appStatus) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(s)
}
