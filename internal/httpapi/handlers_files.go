package httpapi

import (
	"errors"
	"net/http"

	"github.com/ctbritt/dark-sun-assistant/internal/upload"
)

// multipartOverhead allows for form boundaries and headers around the file part.
const multipartOverhead = 1 << 20

type uploadResponse struct {
	Success bool         `json:"success"`
	File    *upload.File `json:"file"`
	Message string       `json:"message"`
}

func (h *handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxSize()+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeMappedError(w, upload.ErrTooLarge)
		case errors.Is(err, http.ErrMissingFile):
			writeInvalidRequest(w, "no file uploaded")
		default:
			writeInvalidRequest(w, "invalid multipart form: "+err.Error())
		}
		return
	}
	defer file.Close()

	saved, err := h.uploads.Save(header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	msg := "File uploaded successfully"
	if saved.Processed {
		msg = "File uploaded and processed successfully"
	}
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, File: saved, Message: msg})
}

type listFilesResponse struct {
	Files []upload.Entry `json:"files"`
}

func (h *handlers) handleListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := h.uploads.List()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if entries == nil {
		entries = []upload.Entry{}
	}
	writeJSON(w, http.StatusOK, listFilesResponse{Files: entries})
}

type deleteFileResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *handlers) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.uploads.Delete(r.PathValue("filename")); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteFileResponse{Success: true, Message: "File deleted successfully"})
}
