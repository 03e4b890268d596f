package i18n

import "strings"

var translations = map[string]string{
	"invalid request":             "درخواست نامعتبر است",
	"missing authorization token": "توکن احراز هویت ارسال نشده است",
	"invalid token":               "توکن نامعتبر است",
	"failed to validate user":     "خطا در اعتبارسنجی کاربر",
	"user not found":              "کاربر یافت نشد",
	"unauthorized":                "دسترسی غیرمجاز",
	"invalid user id":             "شناسه کاربر نامعتبر است",
	"invalid message id":          "شناسه پیام نامعتبر است",
	"rate limiter error":          "خطا در محدودسازی درخواست ها",
	"rate limit exceeded":         "تعداد درخواست ها بیش از حد مجاز است",
	"internal server error":       "خطای داخلی سرور",
	"not found":                   "یافت نشد",
	"request body too large":      "حجم درخواست بیش از حد مجاز است",
	"username must be between 3 and 32 characters":                "نام کاربری باید بین ۳ تا ۳۲ کاراکتر باشد",
	"username can only contain letters, numbers, and underscores": "نام کاربری فقط می تواند شامل حروف، اعداد و زیرخط باشد",
	"password must be at least 6 characters":                      "رمز عبور باید حداقل ۶ کاراکتر باشد",
	"username already exists":                                     "این نام کاربری قبلا ثبت شده است",
	"invalid username or password":                                "نام کاربری یا رمز عبور اشتباه است",
	"display name or bio is too long":                             "نام نمایشی یا بیوگرافی بیش از حد طولانی است",
	"image must be a base64 data URL":                             "تصویر باید به صورت data URL با کدگذاری base64 باشد",
	"file must be a png, jpeg, gif or webp image":                 "فایل باید تصویر png، jpeg، gif یا webp باشد",
	"image exceeds maximum size":                                  "حجم تصویر بیش از حد مجاز است",
	"push notifications are not configured":                       "اعلان ها پیکربندی نشده اند",
	"subscription endpoint and keys are required":                 "آدرس و کلیدهای اشتراک الزامی است",

	"validation failed: message must have text or an image":   "پیام باید متن یا تصویر داشته باشد",
	"validation failed: cannot send a message to yourself":    "نمی توانید به خودتان پیام بدهید",
	"forbidden: only the receiver can mark a message as seen": "فقط گیرنده می تواند پیام را خوانده شده علامت بزند",
	"forbidden: only the sender can delete a message":         "فقط پیام های خودتان قابل حذف است",
	"not found: message":                                      "پیام یافت نشد",
	"not found: receiver":                                     "گیرنده یافت نشد",
	"not found: user":                                         "کاربر یافت نشد",
}

var prefixTranslations = map[string]string{
	"validation failed:":           "درخواست نامعتبر است",
	"forbidden:":                   "دسترسی غیرمجاز",
	"not found:":                   "یافت نشد",
	"upstream failure:":            "خطا در ارتباط با سرویس ذخیره سازی",
	"failed to hash password:":     "خطا در پردازش رمز عبور",
	"failed to register user:":     "خطا در ثبت نام کاربر",
	"failed to get user id:":       "خطا در دریافت شناسه کاربر",
	"failed to query user:":        "خطا در دریافت اطلاعات کاربر",
	"failed to sign token:":        "خطا در امضای توکن",
	"invalid token:":               "توکن نامعتبر است",
	"failed to save image:":        "خطا در ذخیره تصویر",
	"failed to save subscription:": "خطا در ثبت اشتراک اعلان",
}

// Translate returns the Persian text for message, or message itself when
// no translation exists.
func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}

// Localize translates message when the Accept-Language header prefers
// Persian.
func Localize(acceptLanguage, message string) string {
	if prefersPersian(acceptLanguage) {
		return Translate(message)
	}
	return message
}

func prefersPersian(header string) bool {
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	first = strings.ToLower(strings.TrimSpace(first))
	return first == "fa" || strings.HasPrefix(first, "fa-")
}
