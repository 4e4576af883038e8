package ratelimit

import "strings"

// Bucket'ы лимитирования. Соответствие действие -> bucket — чистая
// статическая функция, никакой эвристики в рантайме.
const (
	BucketLogin         = "login"
	BucketPasswordReset = "password_reset"
	BucketAPI           = "api"
	BucketAuditAccess   = "audit_access"
	BucketDownload      = "download"
	BucketGeneral       = "general"
)

// точные соответствия проверяются раньше префиксных правил
var exactBuckets = map[string]string{
	"login_success":          BucketLogin,
	"login_failure":          BucketLogin,
	"password_reset_request": BucketPasswordReset,
	"password_reset_confirm": BucketPasswordReset,
}

type prefixRule struct {
	prefix string
	bucket string
}

var prefixBuckets = []prefixRule{
	{"login", BucketLogin},
	{"password_reset", BucketPasswordReset},
	{"audit.", BucketAuditAccess},
	{"api.", BucketAPI},
}

// ClassifyAction сопоставляет имя действия bucket'у лимитирования.
// Всё, что не распознано, попадает в general.
func ClassifyAction(action string) string {
	if b, ok := exactBuckets[action]; ok {
		return b
	}
	for _, r := range prefixBuckets {
		if strings.HasPrefix(action, r.prefix) {
			return r.bucket
		}
	}
	if strings.HasSuffix(action, ".download") {
		return BucketDownload
	}
	return BucketGeneral
}
