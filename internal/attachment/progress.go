package attachment

import (
	"io"
	"sync"
)

type progressReader struct {
	r      io.Reader
	total  int64
	report func(int)

	mu   sync.Mutex
	sent int64
	last int
}

func newProgressReader(r io.Reader, total int64, report func(int)) *progressReader {
	return &progressReader{r: r, total: total, report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.advance(int64(n))
	}
	return n, err
}

func (p *progressReader) advance(n int64) {
	p.mu.Lock()
	p.sent += n
	pct := 100
	if p.total > 0 {
		pct = int((p.sent*100 + p.total/2) / p.total)
		if pct > 100 {
			pct = 100
		}
	}
	changed := pct != p.last
	p.last = pct
	p.mu.Unlock()

	if changed {
		p.report(pct)
	}
}

// finish reports 100 if the transport never drained the reader to the end.
func (p *progressReader) finish() {
	p.mu.Lock()
	done := p.last == 100
	p.last = 100
	p.mu.Unlock()
	if !done {
		p.report(100)
	}
}
