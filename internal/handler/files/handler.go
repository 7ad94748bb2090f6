package files

import (
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/agentchat/backend/internal/storage"
	"github.com/zhouzirui/agentchat/backend/pkg/utils"
)

const (
	// multipart overhead allowed on top of the file itself
	formOverhead = 1 << 20
	maxFieldSize = 1 << 10
)

// Handler 附件上传下载处理器
type Handler struct {
	gateway      *storage.Gateway
	defaultOwner string
}

// New 创建附件处理器
func New(gateway *storage.Gateway, defaultOwner string) *Handler {
	return &Handler{gateway: gateway, defaultOwner: defaultOwner}
}

// RegisterRoutes 注册附件路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/files", h.handleUpload)
	r.Get("/files", h.handleList)
	r.Get("/files/*", h.handleDownload)
	r.Delete("/files/*", h.handleDelete)
}

// owner 优先级: X-User-ID 头, 表单或查询参数 owner, 默认用户
func (h *Handler) owner(r *http.Request, formOwner string) string {
	if owner := strings.TrimSpace(r.Header.Get("X-User-ID")); owner != "" {
		return owner
	}
	if owner := strings.TrimSpace(formOwner); owner != "" {
		return owner
	}
	if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
		return owner
	}
	return h.defaultOwner
}

type upload struct {
	filename    string
	contentType string
	data        []byte
}

// handleUpload 流式读取表单, 文件名先校验, 通过后才读取文件内容
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxFileSize+formOverhead)
	reader, err := r.MultipartReader()
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	var (
		file      *upload
		formOwner string
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondReadError(w, err)
			return
		}

		switch part.FormName() {
		case "owner":
			raw, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			if err != nil {
				respondReadError(w, err)
				return
			}
			formOwner = string(raw)
		case "file":
			if file != nil || part.FileName() == "" {
				break
			}
			if err := storage.Validate(part.FileName(), 0); err != nil {
				utils.RespondError(w, http.StatusBadRequest, err.Error())
				return
			}
			data, err := io.ReadAll(io.LimitReader(part, storage.MaxFileSize+1))
			if err != nil {
				respondReadError(w, err)
				return
			}
			if err := storage.Validate(part.FileName(), int64(len(data))); err != nil {
				utils.RespondError(w, http.StatusBadRequest, err.Error())
				return
			}
			file = &upload{
				filename:    part.FileName(),
				contentType: part.Header.Get("Content-Type"),
				data:        data,
			}
		}
		_ = part.Close()
	}

	if file == nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}

	desc, err := h.gateway.Upload(r.Context(), file.data, file.filename, h.owner(r, formOwner), file.contentType)
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[files] upload failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, desc)
}

func respondReadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		utils.RespondError(w, http.StatusBadRequest, "file exceeds maximum size")
		return
	}
	utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	files, err := h.gateway.List(r.Context(), h.owner(r, ""))
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[files] list failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "list failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	data, err := h.gateway.Download(r.Context(), p)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "file not found")
		return
	case errors.Is(err, storage.ErrValidation):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Printf("[files] download %s failed: %v", p, err)
		utils.RespondError(w, http.StatusInternalServerError, "download failed")
		return
	}

	contentType := mime.TypeByExtension(path.Ext(p))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[files] write %s failed: %v", p, err)
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ok, err := h.gateway.Delete(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[files] delete failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	utils.RespondSuccess(w, ok)
}
