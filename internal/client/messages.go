package client

import "golang.org/x/text/language"

// messageKey identifies a user-facing message the client may put on an error
// or a synthesized acknowledgment.
type messageKey int

const (
	msgNone messageKey = iota
	msgUnreachable
	msgTimeout
	msgServerError
	msgBadFormat
	msgResponseTooLarge
	msgStartOK
	msgStartFailed
	msgStopOK
	msgStopFailed
)

// supportedLocales is ordered by preference; the first entry is the fallback.
var supportedLocales = []language.Tag{
	language.Chinese,
	language.English,
}

var localeMatcher = language.NewMatcher(supportedLocales)

var catalog = [][]string{
	// zh
	{
		msgUnreachable:      "无法连接到服务器，请确保后端服务已启动",
		msgTimeout:          "请求超时，请稍后重试",
		msgServerError:      "服务器错误",
		msgBadFormat:        "API返回数据格式错误",
		msgResponseTooLarge: "API返回数据过大",
		msgStartOK:          "启动成功",
		msgStartFailed:      "启动失败",
		msgStopOK:           "停止成功",
		msgStopFailed:       "停止失败",
	},
	// en
	{
		msgUnreachable:      "Cannot reach the server; make sure the backend is running",
		msgTimeout:          "The request timed out; try again later",
		msgServerError:      "Server error",
		msgBadFormat:        "Unexpected response format",
		msgResponseTooLarge: "Response too large",
		msgStartOK:          "Started",
		msgStartFailed:      "Failed to start",
		msgStopOK:           "Stopped",
		msgStopFailed:       "Failed to stop",
	},
}

// localize returns the message for key in the supported locale closest to
// locale. Unknown or empty locales fall back to Chinese.
func localize(locale string, key messageKey) string {
	_, idx, _ := localeMatcher.Match(language.Make(locale))
	return catalog[idx][key]
}
