package models

// ReceivedFile is one entry of the received directory.
//
// Preview holds base64-encoded file bytes for PNG and JPEG images and is
// empty for every other file type.
type ReceivedFile struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Preview string `json:"preview"`
}
