package progress

import "io"

// Reader wraps an io.Reader and reports progress via a callback every interval bytes.
type Reader struct {
	reader         io.Reader
	total          int64
	onProgress     func(read int64, total int64)
	totalRead      int64 // cumulative total
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes
}

// NewReader wraps r. total may be zero or negative when the size is unknown.
func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.onProgress != nil && pr.reportInterval > 0 && pr.lastReport >= pr.reportInterval {
			pr.onProgress(pr.totalRead, pr.total)
			pr.lastReport = 0
		}
	}

	return n, err
}

// BytesRead returns how many bytes went through the reader so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}
