package proposal

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
)

var strictLayouts = []string{"02/01/2006", DateLayout, "02-01-2006", "02.01.2006"}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseDate accepts DD/MM/YYYY, ISO dates and free text such as
// "next friday". An empty input yields nil.
func ParseDate(raw string, now time.Time) (*time.Time, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, nil
	}
	loc := now.Location()
	for _, layout := range strictLayouts {
		if d, err := time.ParseInLocation(layout, text, loc); err == nil {
			return &d, nil
		}
	}
	res, err := parser.Parse(text, now)
	if err != nil || res == nil {
		return nil, domainerrors.ErrInvalidDate
	}
	d := time.Date(res.Time.Year(), res.Time.Month(), res.Time.Day(), 0, 0, 0, 0, loc)
	return &d, nil
}
