package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/drougas/contourpp-go/contour"
	"github.com/drougas/contourpp-go/hid"
	"github.com/drougas/contourpp-go/internal/utils"
	"github.com/google/gousb"
)

func main() {
	lowLevel := flag.Bool("l", false, "dump raw frame payloads, one per line, instead of parsing records")
	bayerFormat := flag.Bool("B", false, "emit records in Bayer line form instead of CSV")
	afterMealOnly := flag.Bool("a", false, "filter: only records with minutes_after_meal > 0")
	glucoseOnly := flag.Bool("g", false, "filter: glucose records")
	insulinShortOnly := flag.Bool("is", false, "filter: short-acting insulin records")
	insulinLongOnly := flag.Bool("il", false, "filter: long-acting insulin records")
	carbsOnly := flag.Bool("c", false, "filter: carbohydrate records")
	inputFiles := flagFiles{}
	flag.Var(&inputFiles, "f", "read from file instead of device; repeatable")
	timeShift := flag.String("t", "", "apply [-]HH:MM[:SS] shift to every record's timestamp")
	productID := flag.String("pid", "", "replace the accepted HID product IDs (comma separated hex)")
	csvOut := flag.String("csv-out", "", "append CSV rows to PATH instead of stdout")
	flag.BoolVar(lowLevel, "lowlevel-api", false, "same as -l")
	flag.BoolVar(bayerFormat, "bayer-format", false, "same as -B")
	flag.BoolVar(afterMealOnly, "after-meal-only", false, "same as -a")
	flag.BoolVar(glucoseOnly, "glucose", false, "same as -g")
	flag.BoolVar(insulinShortOnly, "insulin-short", false, "same as -is")
	flag.BoolVar(insulinLongOnly, "insulin-long", false, "same as -il")
	flag.BoolVar(carbsOnly, "carbs", false, "same as -c")
	flag.Var(&inputFiles, "input-file", "same as -f")
	flag.StringVar(timeShift, "time-shift", "", "same as -t")
	flag.StringVar(productID, "product-id", "", "same as -pid")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	positional := flag.Args()
	inputFiles.values = append(inputFiles.values, positional...)

	var delta time.Duration
	if *timeShift != "" {
		d, err := parseTimeShift(*timeShift)
		if err != nil {
			log.Fatalf("# invalid -t value: %v\n", err)
		}
		delta = d
	}

	productIDs := hid.DefaultProductIDs
	if *productID != "" {
		ids, err := parseProductIDs(*productID)
		if err != nil {
			log.Fatalf("# invalid -pid value: %v\n", err)
		}
		productIDs = ids
	}

	pipeline := contour.NewPipeline()

	if len(inputFiles.values) > 0 {
		for _, path := range inputFiles.values {
			if err := readFile(pipeline, path); err != nil {
				log.Fatalf("# failed to read %v: %v\n", path, err)
			}
		}
	} else {
		fmt.Printf("# Opening HID device\n")
		dev, err := hid.Open(productIDs)
		if err != nil {
			log.Fatalf("# failed to open device: %v\n", err)
		}
		defer dev.Close()

		ch := contour.NewChannel(dev)
		sess := contour.NewSession(ch)

		if *lowLevel {
			if err := dumpLowLevel(ctx, sess); err != nil {
				log.Fatalf("# low-level read failed: %v\n", err)
			}
			return
		}

		fmt.Printf("# Starting to read device\n")
		if err := pipeline.CollectLive(ctx, sess); err != nil {
			log.Fatalf("# collection failed: %v\n", err)
		}
	}

	if delta != 0 {
		pipeline.ShiftTime(delta)
	}

	mask := filterMask(*glucoseOnly, *insulinShortOnly, *insulinLongOnly, *carbsOnly, *afterMealOnly)
	records := pipeline.Filter(mask)

	if *csvOut != "" {
		if err := appendCSV(*csvOut, records); err != nil {
			log.Fatalf("# csv-out failed: %v\n", err)
		}
		return
	}

	var err error
	if *bayerFormat {
		err = contour.WriteBayer(os.Stdout, records, contour.DefaultParserConfig().FieldSep)
	} else {
		err = contour.WriteCSV(os.Stdout, records)
	}
	if err != nil {
		log.Fatalf("# output failed: %v\n", err)
	}
}

func readFile(p *contour.Pipeline, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.CollectFile(f)
}

func dumpLowLevel(ctx context.Context, sess *contour.Session) error {
	for {
		text, ok, err := sess.Sync(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Printf("%s\n", utils.FormatSpaces(text))
	}
}

// filterMask combines the individual kind flags into the bitmask Pipeline.Filter expects. No
// flags set means no filtering.
func filterMask(glucose, insulinShort, insulinLong, carbs, afterMealOnly bool) uint8 {
	var mask uint8
	if glucose {
		mask |= contour.FilterGlucose
	}
	if insulinShort {
		mask |= contour.FilterInsulinShort
	}
	if insulinLong {
		mask |= contour.FilterInsulinLong
	}
	if carbs {
		mask |= contour.FilterCarbs
	}
	if afterMealOnly {
		mask |= contour.FilterAfterMealOnly
	}
	return mask
}

// parseTimeShift parses "[-]HH:MM[:SS]" into a signed duration.
func parseTimeShift(s string) (time.Duration, error) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("expected HH:MM[:SS], got %q", s)
	}
	var hours, minutes, seconds int
	if _, err := fmt.Sscanf(parts[0], "%d", &hours); err != nil {
		return 0, err
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minutes); err != nil {
		return 0, err
	}
	if len(parts) == 3 {
		if _, err := fmt.Sscanf(parts[2], "%d", &seconds); err != nil {
			return 0, err
		}
	}
	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}

// parseProductIDs parses a comma-separated hex list, e.g. "7410,7800".
func parseProductIDs(s string) ([]gousb.ID, error) {
	var ids []gousb.ID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := hid.ParseProductID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no product ids given")
	}
	return ids, nil
}

// flagFiles implements flag.Value for a repeatable -f PATH flag.
type flagFiles struct {
	values []string
}

func (f *flagFiles) String() string {
	return strings.Join(f.values, ",")
}

func (f *flagFiles) Set(value string) error {
	f.values = append(f.values, value)
	return nil
}
