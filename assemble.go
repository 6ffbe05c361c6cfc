package formbuf

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"
)

// Result is the decoded form: the last value of every field, accepted files in
// body order, and the parts that were left out.
type Result struct {
	Fields     map[string]string
	Files      []FilePart
	Rejections []Rejection
}

// Value returns the value of the field key.
func (r *Result) Value(key string) (string, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// File returns the first accepted file sent under fieldName.
func (r *Result) File(fieldName string) (FilePart, bool) {
	for _, f := range r.Files {
		if f.FieldName == fieldName {
			return f, true
		}
	}
	return FilePart{}, false
}

// FilesOf returns every accepted file sent under fieldName.
func (r *Result) FilesOf(fieldName string) []FilePart {
	var files []FilePart
	for _, f := range r.Files {
		if f.FieldName == fieldName {
			files = append(files, f)
		}
	}
	return files
}

// Assemble folds parsed parts, in order, into a Result.
// Files failing v are dropped and reported in Result.Rejections.
func Assemble(parts []Part, v *FileValidator, logger logrus.FieldLogger) *Result {
	a := newAssembler(v, logger)
	for i, part := range parts {
		a.add(i, part)
	}
	return a.result
}

type assembler struct {
	validator *FileValidator
	logger    logrus.FieldLogger
	result    *Result
}

func newAssembler(v *FileValidator, logger logrus.FieldLogger) *assembler {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &assembler{
		validator: v,
		logger:    logger,
		result: &Result{
			Fields: make(map[string]string),
		},
	}
}

func (a *assembler) add(index int, part Part) {
	switch p := part.(type) {
	case FieldPart:
		// TODO: expose repeated fields once callers agree on multi-value semantics; for now the last one wins.
		if _, ok := a.result.Fields[p.Name]; ok {
			a.logger.WithFields(logrus.Fields{
				"index": index,
				"field": p.Name,
			}).Warn("duplicate form field, earlier value overwritten")
		}
		a.result.Fields[p.Name] = p.Value
	case FilePart:
		if a.validator != nil {
			valid, err := a.validator.Validate(p)
			if err != nil {
				a.reject(index, p.FieldName, p.Filename, err)
				return
			}
			p = valid
		}
		a.result.Files = append(a.result.Files, p)
	}
}

func (a *assembler) reject(index int, fieldName, filename string, err error) {
	a.result.Rejections = append(a.result.Rejections, Rejection{
		Index:     index,
		FieldName: fieldName,
		Filename:  filename,
		Err:       err,
	})

	var partErr *PartError
	reason := err.Error()
	if errors.As(err, &partErr) {
		reason = partErr.Reason
	}

	a.logger.WithFields(logrus.Fields{
		"index":    index,
		"field":    fieldName,
		"filename": filename,
		"reason":   reason,
	}).Warn("multipart part rejected")
}
