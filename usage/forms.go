package usage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/selector"
	"github.com/eitanko/Suggesty-backend/store"
)

var submitRe = regexp.MustCompile(`(?i)\b(submit|save|continue|next)\b`)

// FormInfo identifies the form an event happened in.
type FormInfo struct {
	Class string
	Index int
	Hash  string
}

// LocateForm finds the nearest form ancestor in the chain. The hash binds
// the form's full segment to the page URL.
func LocateForm(chain, url string) (FormInfo, bool) {
	for i, el := range selector.Parse(chain) {
		if el.Tag != "form" {
			continue
		}
		sum := md5.Sum([]byte(el.Raw + "|" + url))
		return FormInfo{
			Class: el.Attributes["class"],
			Index: i,
			Hash:  hex.EncodeToString(sum[:]),
		}, true
	}
	return FormInfo{}, false
}

// IsSubmitClick reports whether the clicked element looks like a form's
// submit control.
func IsSubmitClick(chain string) bool {
	leaf := selector.Leaf(chain)
	if leaf == "" {
		return false
	}
	el := selector.ParseElement(leaf)
	if strings.EqualFold(el.Attributes["type"], "submit") {
		return true
	}
	button := el.Tag == "button" || el.Attributes["role"] == "button" || el.Pairs["role"] == "button" ||
		(el.Tag == "input" && strings.EqualFold(el.Attributes["type"], "button"))
	if !button {
		return false
	}
	hasText := el.Text != "" || el.Pairs["innerText"] != "" || submitRe.MatchString(leaf)
	hasValue := el.Attributes["value"] != "" && submitRe.MatchString(leaf)
	return hasText || hasValue
}

// ButtonText returns a human label for the clicked control.
func ButtonText(chain string) string {
	leaf := selector.Leaf(chain)
	if leaf == "" {
		return ""
	}
	el := selector.ParseElement(leaf)
	for _, v := range []string{el.Text, el.Pairs["innerText"], el.Attributes["value"], el.Attributes["aria-label"]} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	if cls := strings.TrimSpace(el.Attributes["class"]); cls != "" && submitRe.MatchString(cls) {
		return cls
	}
	if submitRe.MatchString(leaf) {
		return "Submit"
	}
	return ""
}

// Forms tracks form sessions. A change records field engagement, a
// submit-like click records the control label and a submit completes the
// form. Forms never submitted stay abandoned.
func (p *Processor) Forms(ctx context.Context, accountID int64) (int, error) {
	return p.pass(ctx, accountID, models.PassFormUsage, func(tx store.Store, events []models.RawEvent) error {
		for _, e := range events {
			kind := strings.TrimPrefix(strings.ToLower(e.EventType), "$")
			if kind != "change" && kind != "click" && kind != "submit" {
				continue
			}
			info, ok := LocateForm(e.ElementsChain, e.CurrentURL)
			if !ok {
				continue
			}

			form, err := tx.FindFormUsage(ctx, accountID, e.SessionID, e.Pathname, info.Hash)
			switch {
			case errors.Is(err, store.ErrNotFound):
				form = &models.FormUsage{
					AccountID:     accountID,
					SessionID:     e.SessionID,
					Pathname:      e.Pathname,
					FormHash:      info.Hash,
					FormClass:     info.Class,
					FormIndex:     info.Index,
					StartedAt:     e.Timestamp,
					Status:        models.FormAbandoned,
					ElementsChain: e.ElementsChain,
					FieldsEngaged: models.FieldsEngaged{Fields: []string{}, Sequence: []models.FieldEngagement{}},
				}
			case err != nil:
				return fmt.Errorf("find form usage: %w", err)
			}

			if !ApplyFormEvent(form, kind, e) {
				continue
			}
			if err := tx.SaveFormUsage(ctx, form); err != nil {
				return fmt.Errorf("save form usage: %w", err)
			}
		}
		return nil
	})
}

// ApplyFormEvent updates form for one event and reports whether anything
// worth saving happened.
func ApplyFormEvent(form *models.FormUsage, kind string, e models.RawEvent) bool {
	field := e.Selector
	if field == "" {
		field = selector.XPath(e.ElementsChain)
	}

	switch kind {
	case "change":
		if field != "" {
			engage(&form.FieldsEngaged, field, e.Timestamp)
			form.LastField = field
		} else if form.LastField == "" {
			form.LastField = "unknown_field"
		}
		form.InputCount++
	case "click":
		if !IsSubmitClick(e.ElementsChain) {
			// a plain click still opens the form row
			return form.ID == ""
		}
		if text := ButtonText(e.ElementsChain); text != "" {
			form.SubmitText = text
		}
		if field != "" {
			form.LastField = field
		}
	case "submit":
		at := e.Timestamp
		form.SubmittedAt = &at
		form.Status = models.FormCompleted
		secs := int(at.Sub(form.StartedAt) / time.Second)
		if secs < 0 {
			secs = 0
		}
		form.DurationSec = &secs
	default:
		return false
	}
	return true
}

func engage(f *models.FieldsEngaged, field string, at time.Time) {
	known := false
	for _, existing := range f.Fields {
		if existing == field {
			known = true
			break
		}
	}
	if !known {
		f.Fields = append(f.Fields, field)
		f.Unique = len(f.Fields)
	}
	for i := range f.Sequence {
		if f.Sequence[i].Field == field {
			f.Sequence[i].Changes++
			f.Sequence[i].Timestamp = at
			return
		}
	}
	f.Sequence = append(f.Sequence, models.FieldEngagement{Field: field, Timestamp: at, Changes: 1})
}
