package models

// UploadSession tracks one chunked transfer while its pieces arrive.
// Received holds the distinct chunk indices seen so far; duplicates of the
// same index must not advance the count.
type UploadSession struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	TotalChunks int    `json:"total_chunks"`
	Received    []int  `json:"received"`
	ScratchDir  string `json:"scratch_dir"`
}

// Complete reports whether every chunk index has arrived.
func (s *UploadSession) Complete() bool {
	return s.TotalChunks > 0 && len(s.Received) == s.TotalChunks
}

// Progress returns the arrival percentage, floored.
func (s *UploadSession) Progress() int {
	if s.TotalChunks <= 0 {
		return 0
	}
	return len(s.Received) * 100 / s.TotalChunks
}

// Has reports whether the given chunk index was already recorded.
func (s *UploadSession) Has(index int) bool {
	for _, i := range s.Received {
		if i == index {
			return true
		}
	}
	return false
}
