package mongodb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Submitted data is plain JSON. It is never read as Extended JSON, so keys
// such as "$oid" or "$date" are stored as ordinary fields.

// jsonToBSON converts one JSON value. Objects become bson.D in key order and
// arrays bson.A. Integers are int64 when they fit and decimal128 beyond that.
func jsonToBSON(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

func decodeJSONValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			doc := bson.D{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				doc = append(doc, bson.E{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return doc, nil
		case '[':
			arr := bson.A{}
			for dec.More() {
				val, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		return numberToBSON(t)
	default:
		// string, bool or nil
		return t, nil
	}
}

func numberToBSON(n json.Number) (interface{}, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if d, err := primitive.ParseDecimal128(s); err == nil {
			return d, nil
		}
		return s, nil
	}
	if f, err := n.Float64(); err == nil {
		return f, nil
	}
	if d, err := primitive.ParseDecimal128(s); err == nil {
		return d, nil
	}
	return s, nil
}

// appendBSONAsJSON writes v as plain JSON. Numbers are emitted as literals,
// dates as RFC 3339 strings and object ids as hex strings.
func appendBSONAsJSON(buf []byte, v bson.RawValue) ([]byte, error) {
	switch v.Type {
	case bson.TypeEmbeddedDocument:
		doc, _ := v.DocumentOK()
		elems, err := doc.Elements()
		if err != nil {
			return nil, err
		}
		buf = append(buf, '{')
		for i, e := range elems {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendQuoteJSON(buf, e.Key())
			buf = append(buf, ':')
			if buf, err = appendBSONAsJSON(buf, e.Value()); err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	case bson.TypeArray:
		arr, _ := v.ArrayOK()
		vals, err := arr.Values()
		if err != nil {
			return nil, err
		}
		buf = append(buf, '[')
		for i, item := range vals {
			if i > 0 {
				buf = append(buf, ',')
			}
			if buf, err = appendBSONAsJSON(buf, item); err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case bson.TypeString:
		s, _ := v.StringValueOK()
		return appendQuoteJSON(buf, s), nil
	case bson.TypeBoolean:
		b, _ := v.BooleanOK()
		return strconv.AppendBool(buf, b), nil
	case bson.TypeNull, bson.TypeUndefined:
		return append(buf, "null"...), nil
	case bson.TypeInt32:
		i, _ := v.Int32OK()
		return strconv.AppendInt(buf, int64(i), 10), nil
	case bson.TypeInt64:
		i, _ := v.Int64OK()
		return strconv.AppendInt(buf, i, 10), nil
	case bson.TypeDouble:
		f, _ := v.DoubleOK()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return append(buf, "null"...), nil
		}
		return strconv.AppendFloat(buf, f, 'g', -1, 64), nil
	case bson.TypeDecimal128:
		d, _ := v.Decimal128OK()
		s := d.String()
		if json.Valid([]byte(s)) {
			return append(buf, s...), nil
		}
		return appendQuoteJSON(buf, s), nil
	case bson.TypeDateTime:
		ms, _ := v.DateTimeOK()
		return appendQuoteJSON(buf, time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)), nil
	case bson.TypeObjectID:
		oid, _ := v.ObjectIDOK()
		return appendQuoteJSON(buf, oid.Hex()), nil
	}
	// other BSON types only come from foreign writers
	return appendQuoteJSON(buf, v.String()), nil
}

func appendQuoteJSON(buf []byte, s string) []byte {
	b, _ := json.Marshal(s)
	return append(buf, b...)
}
