package attachment

import (
	"fmt"
	"strings"
)

// Admission is the outcome of applying the size ceiling to a set of files.
type Admission struct {
	Accepted []File
	Skipped  []File
	// Notice is a user-facing explanation, empty when nothing was skipped.
	Notice string
}

// Admit splits files by the ceiling that applies to a single send or a batch.
func (p *Pipeline) Admit(files []File, batch bool) Admission {
	limit := p.opts.MaxFileSize
	if batch {
		limit = p.opts.MaxBatchFileSize
	}

	var adm Admission
	for _, f := range files {
		if f.Size > limit {
			adm.Skipped = append(adm.Skipped, f)
			continue
		}
		adm.Accepted = append(adm.Accepted, f)
	}

	switch n := len(adm.Skipped); {
	case n == 0:
	case n == 1 && len(files) == 1:
		adm.Notice = (&TooLargeError{Name: adm.Skipped[0].Name, Size: adm.Skipped[0].Size, Limit: limit}).Error()
	default:
		names := make([]string, n)
		for i, f := range adm.Skipped {
			names[i] = f.Name
		}
		adm.Notice = fmt.Sprintf("%d of %d files were skipped for exceeding %s: %s",
			n, len(files), humanSize(limit), strings.Join(names, ", "))
	}
	return adm
}
