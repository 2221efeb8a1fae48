package pipeline

// Progress bands for a MAIN job. Received and split are fixed marks,
// page completions sweep the band between split and done.
const (
	progressReceived = 10
	progressSplit    = 20
	progressDone     = 100
)

// pageBandProgress maps completed pages onto the 20..90 band. The last
// ten points belong to the merge.
func pageBandProgress(completed, total int) int {
	if total <= 0 {
		return progressSplit
	}
	if completed >= total {
		return progressSplit + 70
	}
	return progressSplit + (70*completed)/total
}
