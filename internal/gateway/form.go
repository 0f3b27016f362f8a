package gateway

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
)

// File это файл, прикладываемый к multipart-запросу
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Form собирает multipart/form-data тело, сохраняя порядок полей
type Form struct {
	fields []formField
	files  []formFile
}

type formField struct{ name, value string }

type formFile struct {
	name string
	file File
}

func NewForm() *Form {
	return &Form{}
}

func (f *Form) Field(name, value string) *Form {
	f.fields = append(f.fields, formField{name, value})
	return f
}

func (f *Form) File(name string, file File) *Form {
	f.files = append(f.files, formFile{name, file})
	return f
}

func (f *Form) encode() (*body, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range f.fields {
		if err := w.WriteField(field.name, field.value); err != nil {
			return nil, fmt.Errorf("encode form: %w", err)
		}
	}
	for _, ff := range f.files {
		ct := ff.file.ContentType
		if ct == "" {
			ct = mime.TypeByExtension(filepath.Ext(ff.file.Name))
		}
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, ff.name, filepath.Base(ff.file.Name)))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("encode form: %w", err)
		}
		if _, err := part.Write(ff.file.Data); err != nil {
			return nil, fmt.Errorf("encode form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encode form: %w", err)
	}
	return &body{contentType: w.FormDataContentType(), data: buf.Bytes()}, nil
}
