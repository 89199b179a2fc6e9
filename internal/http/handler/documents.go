package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"securedocs/internal/http/middleware"
	"securedocs/internal/model"
	"securedocs/internal/service"
)

// Dashboard lists documents the caller can open, with limit & offset.
//
// @Summary   Document dashboard
// @Tags      documents
// @Produce   json
// @Security  BearerAuth
// @Param     limit  query int false "Page size" default(10)
// @Param     offset query int false "Offset"    default(0)
// @Success   200 {object} service.DashboardResult
// @Failure   400 {object} errorPayload
// @Failure   401 {object} errorPayload
// @Router    /dashboard [get]
func Dashboard(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := middleware.PrincipalFrom(c)
		if p == nil {
			return fiber.ErrUnauthorized
		}

		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := docSvc.Dashboard(c.UserContext(), p, limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// UploadDocument stores a new protected document (multipart/form-data).
// Fields: file, title, file_type, accessible_by and accessible_groups
// (comma separated ids or repeated fields).
//
// @Summary   Upload document
// @Tags      documents
// @Accept    multipart/form-data
// @Produce   json
// @Security  BearerAuth
// @Param     file              formData file   true  "Source file"
// @Param     title             formData string true  "Title"
// @Param     file_type         formData string true  "PDF, DOC, DOCX, IMAGE or NEWS"
// @Param     accessible_by     formData string false "User ids"
// @Param     accessible_groups formData string false "Group ids"
// @Success   201 {object} model.Document
// @Failure   400 {object} errorPayload
// @Failure   403 {object} errorPayload
// @Router    /documents [post]
func UploadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := middleware.PrincipalFrom(c)
		if p == nil {
			return fiber.ErrUnauthorized
		}
		if !p.IsAdmin() {
			return writeError(c, fiber.StatusForbidden, "FORBIDDEN", "staff only")
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		form, err := c.MultipartForm()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_FORM", "invalid form")
		}
		users, err := parseIDs(form.Value["accessible_by"])
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ACCESSIBLE_BY", "accessible_by must be a list of ids")
		}
		groups, err := parseIDs(form.Value["accessible_groups"])
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ACCESSIBLE_GROUPS", "accessible_groups must be a list of ids")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		doc, err := docSvc.Upload(c.UserContext(), p, service.UploadInput{
			Reader:           f,
			Filename:         fh.Filename,
			ContentType:      ct,
			Size:             fh.Size,
			Title:            c.FormValue("title"),
			FileType:         model.FileType(strings.ToUpper(strings.TrimSpace(c.FormValue("file_type")))),
			AccessibleBy:     users,
			AccessibleGroups: groups,
		})
		if err != nil {
			switch {
			case errors.Is(err, service.ErrAccessDenied):
				return writeError(c, fiber.StatusForbidden, "FORBIDDEN", "staff only")
			case errors.Is(err, service.ErrInvalidFileType):
				return writeError(c, fiber.StatusBadRequest, "INVALID_FILE_TYPE", "file_type must be one of PDF, DOC, DOCX, IMAGE, NEWS")
			case errors.Is(err, service.ErrTitleRequired):
				return writeError(c, fiber.StatusBadRequest, "TITLE_REQUIRED", "title is required")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Status(fiber.StatusCreated).JSON(doc)
	}
}

// DeleteDocument removes a document, its source blob and its rendered pages.
//
// @Summary   Delete document
// @Tags      documents
// @Security  BearerAuth
// @Param     id path int true "Document id"
// @Success   204
// @Failure   400 {object} errorPayload
// @Failure   403 {object} errorPayload
// @Failure   404 {object} errorPayload
// @Router    /documents/{id} [delete]
func DeleteDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := middleware.PrincipalFrom(c)
		if p == nil {
			return fiber.ErrUnauthorized
		}
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := docSvc.Delete(c.UserContext(), p, int64(id)); err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
			case errors.Is(err, service.ErrAccessDenied):
				return writeError(c, fiber.StatusForbidden, "FORBIDDEN", "staff only")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// parseIDs accepts repeated values and comma separated lists.
func parseIDs(values []string) ([]int64, error) {
	var out []int64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, errors.New("invalid id " + strconv.Quote(part))
			}
			out = append(out, id)
		}
	}
	return out, nil
}
