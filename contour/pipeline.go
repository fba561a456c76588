package contour

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"
)

// Filter bit values accepted by Pipeline.Filter, matching Record.FilterBit.
const (
	FilterGlucose       uint8 = 1
	FilterInsulinShort  uint8 = 2
	FilterInsulinLong   uint8 = 4
	FilterCarbs         uint8 = 8
	FilterAfterMealOnly uint8 = 16
)

// Pipeline accumulates Records from either a live Session or file input, then applies a time
// shift and a record-kind filter before handing surviving records to a printer.
type Pipeline struct {
	parser  *Parser
	records []Record
}

// NewPipeline returns an empty Pipeline with a fresh Parser.
func NewPipeline() *Pipeline {
	return &Pipeline{parser: NewParser()}
}

// CollectLive drives sess until end-of-stream, parsing every line it yields and retaining the
// Result records. Malformed or unsupported lines are skipped rather than aborting the collection,
// matching the driver's "records individually" tolerance from the parser design.
func (p *Pipeline) CollectLive(ctx context.Context, sess *Session) error {
	for {
		text, ok, err := sess.Sync(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		rec, got, err := p.parser.Parse(text)
		if err != nil {
			continue
		}
		if got {
			p.records = append(p.records, rec)
		}
	}
}

// CollectFile reads newline-delimited records from r, feeding each line through the same parser
// CollectLive uses. Malformed lines are skipped.
func (p *Pipeline) CollectFile(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, got, err := p.parser.Parse(line)
		if err != nil {
			continue
		}
		if got {
			p.records = append(p.records, rec)
		}
	}
	return scanner.Err()
}

// ShiftTime applies delta to every collected record's DateTime.
func (p *Pipeline) ShiftTime(delta time.Duration) {
	for i := range p.records {
		p.records[i].ShiftTime(delta)
	}
}

// Filter returns the subset of collected records whose FilterBit intersects mask. A mask of 0
// returns every record.
func (p *Pipeline) Filter(mask uint8) []Record {
	if mask == 0 {
		return p.records
	}
	var out []Record
	for _, r := range p.records {
		if r.FilterBit()&mask != 0 {
			out = append(out, r)
		}
	}
	return out
}

// Records returns every collected record, unfiltered.
func (p *Pipeline) Records() []Record { return p.records }

// WriteCSV writes one CSV row per record to w, each newline-terminated.
func WriteCSV(w io.Writer, records []Record) error {
	for _, r := range records {
		if _, err := fmt.Fprintln(w, r.PrintCSV()); err != nil {
			return err
		}
	}
	return nil
}

// WriteBayer writes one Bayer-format "R" line per record to w, each newline-terminated.
func WriteBayer(w io.Writer, records []Record, fieldSep byte) error {
	for _, r := range records {
		if _, err := fmt.Fprintln(w, r.PrintBayer(fieldSep)); err != nil {
			return err
		}
	}
	return nil
}
