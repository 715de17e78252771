// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package parse

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/waycore/rag-knowledge/pkg/types"
)

const (
	untitled        = "Untitled Entry"
	minItemContent  = 50
	longStringRunes = 20
)

var (
	titleFields   = []string{"name", "title", "common_name", "label", "heading"}
	contentFields = []string{"description", "content", "text", "body", "summary", "notes"}
)

// object is a JSON object that remembers key order, so content fields are
// rendered in the order the source lists them.
type object struct {
	keys []string
	vals map[string]any
}

func newObject() *object { return &object{vals: make(map[string]any)} }

func (o *object) set(key string, v any) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

func (o *object) get(key string) (any, bool) {
	v, ok := o.vals[key]
	return v, ok
}

// decodeJSON reads one JSON document into nested *object, []any, string,
// json.Number, bool and nil values.
func decodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := newObject()
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.set(kt.(string), v)
		}
		_, err := dec.Token()
		return obj, err
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		_, err := dec.Token()
		return arr, err
	}
	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

func readJSON(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	v, err := decodeJSON(f)
	if err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	return v, nil
}

func parseJSON(path, category string) ([]Record, error) {
	data, err := readJSON(path)
	if err != nil {
		return nil, err
	}
	var recs []Record
	walkItems(data, func(item *object) {
		if rec, ok := itemRecord(item, category, path); ok {
			recs = append(recs, rec)
		}
	})
	return recs, nil
}

func parseCSV(path, category string) ([]Record, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	var recs []Record
	for _, row := range rows {
		if rec, ok := itemRecord(row, category, path); ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// readCSV returns each data row as an object keyed by the header row.
func readCSV(path string) ([]*object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []*object
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV: %w", err)
		}
		row := newObject()
		for i, key := range header {
			v := ""
			if i < len(fields) {
				v = fields[i]
			}
			row.set(key, v)
		}
		rows = append(rows, row)
	}
}

// walkItems calls fn for every object in data that looks like an entry.
// A top-level array is always a list of items; nested containers are
// searched recursively.
func walkItems(data any, fn func(*object)) {
	switch v := data.(type) {
	case []any:
		for _, it := range v {
			if obj, ok := it.(*object); ok {
				fn(obj)
			}
		}
	case *object:
		if looksLikeItem(v) {
			fn(v)
			return
		}
		for _, k := range v.keys {
			switch v.vals[k].(type) {
			case []any, *object:
				walkItems(v.vals[k], fn)
			}
		}
	}
}

func looksLikeItem(o *object) bool {
	for _, f := range titleFields {
		if _, ok := o.get(f); ok {
			return true
		}
	}
	for _, f := range contentFields {
		if _, ok := o.get(f); ok {
			return true
		}
	}
	long := 0
	for _, k := range o.keys {
		if s, ok := o.vals[k].(string); ok && utf8.RuneCountInString(s) > longStringRunes {
			long++
		}
	}
	return long >= 2
}

func itemRecord(item *object, category, path string) (Record, bool) {
	title := untitled
	for _, f := range titleFields {
		if v, ok := item.get(f); ok && truthy(v) {
			if t, ok := scalarText(v); ok {
				title = t
				break
			}
		}
	}

	var parts []string
	meta := map[string]any{}
	for _, k := range item.keys {
		if isTitleField(k) {
			continue
		}
		switch v := item.vals[k].(type) {
		case string:
			if utf8.RuneCountInString(v) > longStringRunes {
				parts = append(parts, fieldLabel(k)+": "+v)
			} else {
				meta[k] = v
			}
		case json.Number, bool:
			meta[k] = v
		case []any:
			if strs, ok := stringList(v); ok {
				parts = append(parts, fieldLabel(k)+": "+strings.Join(strs, ", "))
			}
		}
	}

	content := strings.Join(parts, "\n\n")
	if utf8.RuneCountInString(content) < minItemContent {
		return Record{}, false
	}
	sub, _ := meta["subcategory"].(string)
	return Record{
		Title:       title,
		Content:     content,
		Subcategory: sub,
		SafetyLevel: types.CategorySafety(category),
		SafetyNotes: types.CategoryNotes(category),
		Tags:        []string{category, stem(path)},
		Metadata:    meta,
	}, true
}

func isTitleField(k string) bool {
	for _, f := range titleFields {
		if f == k {
			return true
		}
	}
	return false
}

func stringList(v []any) ([]string, bool) {
	out := make([]string, 0, len(v))
	for _, x := range v {
		s, ok := x.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// truthy mirrors the usual "value is set" test for decoded JSON: empty
// strings, empty containers, zero numbers, false and null are unset.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	case []any:
		return len(x) > 0
	case *object:
		return len(x.keys) > 0
	}
	return true
}

// scalarText renders strings, numbers, booleans and string lists. Objects
// and mixed lists have no text form.
func scalarText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case []any:
		if strs, ok := stringList(x); ok {
			return strings.Join(strs, ", "), true
		}
	}
	return "", false
}
