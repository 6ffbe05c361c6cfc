package formbuf_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"reflect"
	"strings"
	"testing"

	"github.com/mazrean/formbuf"
	"github.com/mazrean/formbuf/internal/myio"
)

func TestParser_Parse(t *testing.T) {
	t.Parallel()

	payload := "0123456789"

	tests := map[string]struct {
		boundary string
		body     string
		options  []formbuf.ParserOption
		fields   map[string]string
		files    []string
		rejected int
		err      error
	}{
		"field and file": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"nome\"\r\n\r\n" +
				"Burger\r\n" +
				"--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"image\"; filename=\"photo.jpg\"\r\n" +
				"Content-Type: image/jpeg\r\n\r\n" +
				payload + "\r\n" +
				"--XYZ--\r\n",
			fields: map[string]string{"nome": "Burger"},
			files:  []string{"photo.jpg"},
		},
		"missing terminal delimiter": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"nome\"\r\n\r\n" +
				"Burger\r\n" +
				"--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"image\"; filename=\"photo.jpg\"\r\n" +
				"Content-Type: image/jpeg\r\n\r\n" +
				"01234",
			err: formbuf.ErrMalformedRequest,
		},
		"missing terminal delimiter, lenient": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"nome\"\r\n\r\n" +
				"Burger\r\n" +
				"--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"image\"; filename=\"photo.jpg\"\r\n" +
				"Content-Type: image/jpeg\r\n\r\n" +
				"01234",
			options: []formbuf.ParserOption{formbuf.WithLenientTruncation()},
			fields:  map[string]string{"nome": "Burger"},
		},
		"missing boundary": {
			boundary: "",
			body:     "--\r\n\r\n----",
			err:      formbuf.ErrMalformedRequest,
		},
		"no delimiter": {
			boundary: "XYZ",
			body:     "nome=Burger",
			err:      formbuf.ErrMalformedRequest,
		},
		"disallowed file keeps sibling fields": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"nome\"\r\n\r\n" +
				"Burger\r\n" +
				"--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"image\"; filename=\"setup.exe\"\r\n" +
				"Content-Type: application/x-msdownload\r\n\r\n" +
				"MZ\r\n" +
				"--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"preco\"\r\n\r\n" +
				"25.90\r\n" +
				"--XYZ--\r\n",
			fields:   map[string]string{"nome": "Burger", "preco": "25.90"},
			rejected: 1,
		},
		"broken part is skipped": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"broken\"\r\n" +
				"--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"nome\"\r\n\r\n" +
				"Burger\r\n" +
				"--XYZ--\r\n",
			fields:   map[string]string{"nome": "Burger"},
			rejected: 1,
		},
		"file over per-file cap": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"image\"; filename=\"photo.jpg\"\r\n" +
				"Content-Type: image/jpeg\r\n\r\n" +
				payload + "\r\n" +
				"--XYZ--\r\n",
			options:  []formbuf.ParserOption{formbuf.WithMaxFileSize(9)},
			fields:   map[string]string{},
			rejected: 1,
		},
		"custom allow list": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"doc\"; filename=\"a.pdf\"\r\n" +
				"Content-Type: application/pdf\r\n\r\n" +
				"%PDF\r\n" +
				"--XYZ--\r\n",
			options: []formbuf.ParserOption{formbuf.WithAllowedTypes("application/pdf")},
			fields:  map[string]string{},
			files:   []string{"a.pdf"},
		},
		"too many headers": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"nome\"\r\n" +
				"X-One: 1\r\n\r\n" +
				"Burger\r\n" +
				"--XYZ--\r\n",
			options: []formbuf.ParserOption{formbuf.WithMaxHeaders(1)},
			err:     formbuf.ErrTooManyHeaders,
		},
		"skipped parts spend the header budget": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"garbage one\r\ngarbage two\r\n\r\nx\r\n" +
				"--XYZ\r\n" +
				"garbage three\r\ngarbage four\r\n\r\ny\r\n" +
				"--XYZ--\r\n",
			options: []formbuf.ParserOption{formbuf.WithMaxHeaders(3)},
			err:     formbuf.ErrTooManyHeaders,
		},
		"stray disposition token keeps the field": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"nome\"; inline\r\n\r\n" +
				"Burger\r\n" +
				"--XYZ--\r\n",
			fields: map[string]string{"nome": "Burger"},
		},
		"too many parts": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"a\"\r\n\r\n1\r\n" +
				"--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"b\"\r\n\r\n2\r\n" +
				"--XYZ--\r\n",
			options: []formbuf.ParserOption{formbuf.WithMaxParts(1)},
			err:     formbuf.ErrTooManyParts,
		},
		"body over cap": {
			boundary: "XYZ",
			body: "--XYZ\r\n" +
				"Content-Disposition: form-data; name=\"nome\"\r\n\r\n" +
				"Burger\r\n" +
				"--XYZ--\r\n",
			options: []formbuf.ParserOption{formbuf.WithMaxBodySize(10)},
			err:     formbuf.ErrPayloadTooLarge,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			options := append([]formbuf.ParserOption{formbuf.WithChunkSize(7)}, tc.options...)
			parser := formbuf.NewParser(tc.boundary, options...)

			result, err := parser.Parse(context.Background(), strings.NewReader(tc.body))
			if !errors.Is(err, tc.err) {
				t.Fatalf("unexpected error: expected %v, actual %v", tc.err, err)
			}
			if tc.err != nil {
				if result != nil {
					t.Error("no partial result may be returned on error")
				}
				return
			}

			if !reflect.DeepEqual(result.Fields, tc.fields) {
				t.Errorf("fields are wrong: expected %v, actual %v", tc.fields, result.Fields)
			}

			var files []string
			for _, f := range result.Files {
				files = append(files, f.Filename)
			}
			if !reflect.DeepEqual(files, tc.files) {
				t.Errorf("files are wrong: expected %v, actual %v", tc.files, files)
			}

			if len(result.Rejections) != tc.rejected {
				t.Errorf("rejection count is wrong: expected %d, actual %d (%v)", tc.rejected, len(result.Rejections), result.Rejections)
			}
		})
	}
}

func TestParser_ParseScenario(t *testing.T) {
	t.Parallel()

	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"nome\"\r\n\r\n" +
		"Burger\r\n" +
		"--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"image\"; filename=\"photo.jpg\"\r\n" +
		"Content-Type: image/jpeg\r\n\r\n" +
		"\xff\xd8\xff\x00\x01\x02\x03\x04\x05\x06\r\n" +
		"--XYZ--\r\n"

	result, err := formbuf.NewParser("XYZ").Parse(context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(result.Fields, map[string]string{"nome": "Burger"}) {
		t.Errorf("fields are wrong: %v", result.Fields)
	}
	if len(result.Files) != 1 {
		t.Fatalf("file count is wrong: %d", len(result.Files))
	}

	f := result.Files[0]
	if f.FieldName != "image" || f.Filename != "photo.jpg" || f.MimeType != "image/jpeg" || f.Size() != 10 {
		t.Errorf("file is wrong: %s %s %s %d", f.FieldName, f.Filename, f.MimeType, f.Size())
	}
}

func TestParser_ParseTooLargeBeforeScan(t *testing.T) {
	t.Parallel()

	// no delimiter at all: reaching the scanner would report ErrMalformedRequest instead
	body := bytes.Repeat([]byte{'a'}, int(6*formbuf.MB))

	parser := formbuf.NewParser("XYZ", formbuf.WithMaxBodySize(5*formbuf.MB))
	_, err := parser.Parse(context.Background(), bytes.NewReader(body))
	if !errors.Is(err, formbuf.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if formbuf.StatusCode(err) != http.StatusRequestEntityTooLarge {
		t.Errorf("status code is wrong: %d", formbuf.StatusCode(err))
	}
}

func TestParser_ParseSized(t *testing.T) {
	t.Parallel()

	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"nome\"\r\n\r\n" +
		"Burger\r\n" +
		"--XYZ--\r\n"

	tests := map[string]struct {
		size int64
		err  error
	}{
		"exact":          {size: int64(len(body))},
		"unknown":        {size: -1},
		"under-reported": {size: 4},
		"over the cap":   {size: 1 << 20, err: formbuf.ErrPayloadTooLarge},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			parser := formbuf.NewParser("XYZ", formbuf.WithMaxBodySize(1024))

			result, err := parser.ParseSized(context.Background(), strings.NewReader(body), tc.size)
			if !errors.Is(err, tc.err) {
				t.Fatalf("unexpected error: expected %v, actual %v", tc.err, err)
			}
			if tc.err != nil {
				return
			}

			if v, _ := result.Value("nome"); v != "Burger" {
				t.Errorf("value is wrong: expected Burger, actual %q", v)
			}
		})
	}
}

func TestParser_ParseCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := formbuf.NewParser("XYZ").Parse(ctx, strings.NewReader("--XYZ--"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type generatedPart struct {
	name     string
	filename string
	mimeType string
	content  []byte
}

func generateForm(t testing.TB, rnd *rand.Rand, boundary string, fieldCount, fileCount int) ([]byte, []generatedPart) {
	t.Helper()

	var parts []generatedPart
	for i := range fieldCount {
		value := make([]byte, rnd.IntN(64))
		for j := range value {
			value[j] = byte('a' + rnd.IntN(26))
		}
		parts = append(parts, generatedPart{name: fmt.Sprintf("field%d", i), content: value})
	}
	types := []string{"image/jpeg", "image/png", "image/webp"}
	for i := range fileCount {
		content := make([]byte, rnd.IntN(4096))
		for j := range content {
			content[j] = byte(rnd.Uint32())
		}
		parts = append(parts, generatedPart{
			name:     fmt.Sprintf("file%d", i),
			filename: fmt.Sprintf("photo%d.bin", i),
			mimeType: types[rnd.IntN(len(types))],
			content:  content,
		})
	}
	rnd.Shuffle(len(parts), func(i, j int) { parts[i], parts[j] = parts[j], parts[i] })

	b := new(bytes.Buffer)
	mw := multipart.NewWriter(b)
	if err := mw.SetBoundary(boundary); err != nil {
		t.Fatal(err)
	}
	for _, p := range parts {
		mh := make(textproto.MIMEHeader)
		if p.filename == "" {
			mh.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, p.name))
		} else {
			mh.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.name, p.filename))
			mh.Set("Content-Type", p.mimeType)
		}
		w, err := mw.CreatePart(mh)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(p.content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	return b.Bytes(), parts
}

func TestParser_ParseGeneratedForms(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewPCG(1, 2))
	const boundary = "gEnErAtEdBoUnDaRy"

	for i := range 50 {
		fieldCount, fileCount := rnd.IntN(6), rnd.IntN(6)
		body, parts := generateForm(t, rnd, boundary, fieldCount, fileCount)

		result, err := formbuf.NewParser(boundary).Parse(context.Background(), myio.ChunkReader(bytes.NewReader(body), 1+rnd.IntN(512)))
		if err != nil {
			t.Fatalf("form %d: %v", i, err)
		}

		if len(result.Fields) != fieldCount || len(result.Files) != fileCount || len(result.Rejections) != 0 {
			t.Fatalf("form %d: expected %d fields and %d files, got %d, %d (%v)", i, fieldCount, fileCount, len(result.Fields), len(result.Files), result.Rejections)
		}

		var fileIndex int
		for _, p := range parts {
			if p.filename == "" {
				if got := result.Fields[p.name]; got != string(p.content) {
					t.Errorf("form %d: field %s is wrong", i, p.name)
				}
				continue
			}

			f := result.Files[fileIndex]
			fileIndex++
			if f.FieldName != p.name || f.Filename != p.filename || f.MimeType != p.mimeType || !bytes.Equal(f.Content, p.content) {
				t.Errorf("form %d: file %s differs from what was sent", i, p.name)
			}
		}
	}
}

func TestParser_ParseBufferIdempotent(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewPCG(3, 4))
	body, _ := generateForm(t, rnd, "idem", 4, 4)
	buf := formbuf.NewBuffer(body)
	parser := formbuf.NewParser("idem")

	first, err := parser.ParseBuffer(buf)
	if err != nil {
		t.Fatal(err)
	}

	second, err := parser.ParseBuffer(buf)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatal("parsing the same buffer twice gave different results")
	}

	// mutating a returned file must not leak into the buffer
	for _, f := range first.Files {
		if len(f.Content) > 0 {
			f.Content[0] ^= 0xff
		}
	}

	third, err := parser.ParseBuffer(buf)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(second, third) {
		t.Error("a mutated result changed later parses")
	}
}

func TestParser_ParseBoundaryInValue(t *testing.T) {
	t.Parallel()

	values := []string{
		"price --XYZ 10",
		"--XYZ-not-a-delimiter",
		"--XYZ trailing text",
		"multi\r\nline --XYZ\r\nvalue",
		"XYZ--XYZ--",
	}

	var sb strings.Builder
	sb.WriteString("--XYZ\r\n")
	for i, v := range values {
		fmt.Fprintf(&sb, "Content-Disposition: form-data; name=\"v%d\"\r\n\r\n%s\r\n--XYZ", i, v)
		if i == len(values)-1 {
			sb.WriteString("--\r\n")
		} else {
			sb.WriteString("\r\n")
		}
	}

	result, err := formbuf.NewParser("XYZ").Parse(context.Background(), strings.NewReader(sb.String()))
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Fields) != len(values) {
		t.Fatalf("spurious split: expected %d fields, got %v", len(values), result.Fields)
	}
	for i, v := range values {
		if got := result.Fields[fmt.Sprintf("v%d", i)]; got != v {
			t.Errorf("field v%d is wrong: expected %q, actual %q", i, v, got)
		}
	}
}

func TestBoundaryFromContentType(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		contentType string
		boundary    string
		err         error
	}{
		"webkit": {
			contentType: "multipart/form-data; boundary=----WebKitFormBoundaryXXXX",
			boundary:    "----WebKitFormBoundaryXXXX",
		},
		"quoted": {
			contentType: `Multipart/Form-Data; charset=utf-8; boundary="a b:c"`,
			boundary:    "a b:c",
		},
		"not multipart": {
			contentType: "application/json",
			err:         formbuf.ErrMalformedRequest,
		},
		"missing boundary": {
			contentType: "multipart/form-data",
			err:         formbuf.ErrMalformedRequest,
		},
		"empty boundary": {
			contentType: `multipart/form-data; boundary=""`,
			err:         formbuf.ErrMalformedRequest,
		},
		"boundary too long": {
			contentType: "multipart/form-data; boundary=" + strings.Repeat("x", 71),
			err:         formbuf.ErrMalformedRequest,
		},
		"trailing space": {
			contentType: `multipart/form-data; boundary="abc "`,
			err:         formbuf.ErrMalformedRequest,
		},
		"broken params": {
			contentType: `multipart/form-data; boundary="abc`,
			err:         formbuf.ErrMalformedRequest,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			boundary, err := formbuf.BoundaryFromContentType(tc.contentType)
			if !errors.Is(err, tc.err) {
				t.Fatalf("unexpected error: expected %v, actual %v", tc.err, err)
			}
			if boundary != tc.boundary {
				t.Errorf("boundary is wrong: expected %q, actual %q", tc.boundary, boundary)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{formbuf.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("wrapped: %w", formbuf.ErrPayloadTooLarge), http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{formbuf.ErrMalformedRequest, http.StatusBadRequest},
		{formbuf.ErrTooManyParts, http.StatusBadRequest},
		{formbuf.ErrTooManyHeaders, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusRequestTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		if got := formbuf.StatusCode(tc.err); got != tc.code {
			t.Errorf("StatusCode(%v): expected %d, actual %d", tc.err, tc.code, got)
		}
	}
}
