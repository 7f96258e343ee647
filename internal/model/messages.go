package model

import "fmt"

// User-facing messages. The display locale is Simplified Chinese.
const (
	MsgUnsupportedMethod = "不支持的请求方法"
	MsgParseFailed       = "文件解析错误"
	MsgMissingFields     = "缺少 API Key 或音频文件"
	MsgProcessingFailed  = "处理失败，请检查 API Key 和音频文件是否正确。"
	MsgNotFound          = "资源不存在"
	MsgRateLimited       = "请求过于频繁，请稍后再试。"
	MsgInternalError     = "服务器内部错误"
)

// TranscriptionPrompt is the instruction sent with every audio payload.
const TranscriptionPrompt = "请将音频内容转为逐字歌词，并为每句歌词添加时间戳，生成标准的 lrc 格式的歌词文件内容。"

// FileTooLargeMessage names the server-side upload ceiling in the user's locale.
func FileTooLargeMessage(maxBytes int64) string {
	size := fmt.Sprintf("%dKB", maxBytes/1024)
	if maxBytes >= 1<<20 && maxBytes%(1<<20) == 0 {
		size = fmt.Sprintf("%dMB", maxBytes>>20)
	}
	return fmt.Sprintf("文件大小超过服务器限制，请上传小于 %s 的文件。", size)
}
