package model

// AudioUpload is an uploaded audio file held in memory for one request
type AudioUpload struct {
	ID       string
	Filename string
	MIMEType string
	Data     []byte
}

// Size returns the number of audio bytes
func (a *AudioUpload) Size() int64 {
	return int64(len(a.Data))
}
