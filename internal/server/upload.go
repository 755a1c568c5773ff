package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/common"
)

type submission struct {
	Title string
	Image []byte
	Mime  string
}

type createRequest struct {
	Titulo    string `json:"titulo"`
	ImagemURL string `json:"imagemUrl"`
}

func (s *Server) maxImageBytes() int64 {
	if s.cfg.MaxImageBytes > 0 {
		return s.cfg.MaxImageBytes
	}
	return constants.MaxImageBytes
}

// readSubmission accepts either a JSON body carrying a data URL or a
// multipart form with titulo and file fields.
func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) (submission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return s.readMultipart(w, r)
	case "application/json", "":
		var req createRequest
		if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
			return submission{}, err
		}
		if strings.TrimSpace(req.ImagemURL) == "" {
			return submission{}, common.InvalidInputf("imagemUrl is required")
		}
		mt, data, err := parseDataURL(req.ImagemURL)
		if err != nil {
			return submission{}, err
		}
		return submission{Title: req.Titulo, Image: data, Mime: mt}, nil
	default:
		return submission{}, common.InvalidInputf("unsupported content type %q", mediaType)
	}
}

func (s *Server) readMultipart(w http.ResponseWriter, r *http.Request) (submission, error) {
	limit := s.maxImageBytes()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseMultipartForm(limit + (1 << 20)); err != nil {
		return submission{}, bodyError(err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		return submission{}, common.InvalidInputf("file is required")
	}
	defer file.Close()
	if header.Size > limit {
		return submission{}, common.InvalidInputf("imagem exceeds %d bytes", limit)
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return submission{}, bodyError(err)
	}
	if int64(len(data)) > limit {
		return submission{}, common.InvalidInputf("imagem exceeds %d bytes", limit)
	}
	return submission{
		Title: r.FormValue("titulo"),
		Image: data,
		Mime:  uploadMime(header.Header.Get("Content-Type"), header.Filename, data),
	}, nil
}

// uploadMime trusts the part's content type when it is an image type we
// accept, then the file extension, then the sniffed bytes.
func uploadMime(declared, filename string, data []byte) string {
	if _, ok := constants.ExtForMime(declared); ok {
		return constants.NormalizeMime(declared)
	}
	if mt, ok := constants.MimeForExt(filepath.Ext(filename)); ok {
		return mt
	}
	return constants.NormalizeMime(http.DetectContentType(data))
}

// parseDataURL decodes "data:<mime>;base64,<payload>".
func parseDataURL(raw string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), "data:")
	if !ok {
		return "", nil, common.InvalidInputf("imagemUrl must be a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, common.InvalidInputf("imagemUrl has no payload")
	}
	meta, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, common.InvalidInputf("imagemUrl must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, common.InvalidInputf("imagemUrl payload is not valid base64")
	}
	return constants.NormalizeMime(meta), data, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return common.InvalidInputf("request body is empty")
		}
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return common.InvalidInputf("request body exceeds %d bytes", tooBig.Limit)
	}
	return common.InvalidInputf("malformed request body: %v", err)
}
