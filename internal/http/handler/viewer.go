package handler

import (
	"bytes"
	"errors"
	"html/template"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"securedocs/internal/http/middleware"
	"securedocs/internal/render"
	"securedocs/internal/service"
)

// viewerShell renders pages one by one into <img> tags. It never links to the
// source file; images arrive as base64 PNG from the page endpoint.
var viewerShell = template.Must(template.New("viewer").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <style>
    body { margin: 0; background: #525659; }
    #pages img { display: block; margin: 12px auto; max-width: 100%; box-shadow: 0 0 6px #000; }
    #status { color: #eee; text-align: center; font-family: sans-serif; padding: 12px; }
  </style>
</head>
<body oncontextmenu="return false">
  <div id="pages" data-pages="{{.PageBase}}"></div>
  <div id="status">Loading…</div>
  <script>
    (function () {
      var pages = document.getElementById('pages');
      var base = pages.getAttribute('data-pages');
      var next = 1;
      var busy = false;
      var done = false;
      var status = document.getElementById('status');

      function load() {
        if (busy || done) return;
        busy = true;
        fetch(base + next + '/', { credentials: 'same-origin', headers: { 'Accept': 'application/json' } })
          .then(function (r) { return r.json().then(function (b) { return { status: r.status, body: b }; }); })
          .then(function (res) {
            if (res.body.end) { done = true; status.textContent = ''; return; }
            if (res.status !== 200) { done = true; status.textContent = 'Unable to load page.'; return; }
            var img = document.createElement('img');
            img.src = 'data:image/png;base64,' + res.body.image;
            img.alt = 'Page ' + res.body.page;
            img.draggable = false;
            pages.appendChild(img);
            next = res.body.page + 1;
            status.textContent = 'Page ' + res.body.page + ' of ' + res.body.total_pages;
            if (next > res.body.total_pages) { done = true; }
          })
          .finally(function () { busy = false; if (!done && window.innerHeight + window.scrollY >= document.body.offsetHeight - 400) load(); });
      }

      window.addEventListener('scroll', function () {
        if (window.innerHeight + window.scrollY >= document.body.offsetHeight - 400) load();
      });
      load();
    })();
  </script>
</body>
</html>
`))

var deniedPage = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8" /><title>Access denied</title></head>
<body><h1>Access denied</h1><p>You do not have permission to view this document.</p></body>
</html>
`))

type shellData struct {
	Title    string
	PageBase string
}

// SecureDocumentView serves the viewer for one document. Browsers get the
// HTML shell; clients sending Accept: application/json get the document handle.
//
// @Summary   Open a protected document
// @Tags      viewer
// @Produce   html
// @Produce   json
// @Security  BearerAuth
// @Param     docID path int true "Document id"
// @Success   200 {object} service.DocumentHandle
// @Failure   403 {object} map[string]string
// @Failure   404 {object} errorPayload
// @Failure   500 {object} errorPayload
// @Router    /secure-document/{docID}/ [get]
func SecureDocumentView(viewer service.ViewerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := middleware.PrincipalFrom(c)
		if p == nil {
			return fiber.ErrUnauthorized
		}
		docID, err := c.ParamsInt("docID")
		if err != nil || docID <= 0 {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
		}
		wantsJSON := c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON

		h, err := viewer.Open(c.UserContext(), p, int64(docID))
		if err != nil {
			if errors.Is(err, service.ErrAccessDenied) && !wantsJSON {
				return renderHTML(c, fiber.StatusForbidden, deniedPage, nil)
			}
			return viewerError(c, err)
		}

		c.Set(fiber.HeaderCacheControl, "no-store")
		if wantsJSON {
			return c.JSON(h)
		}
		return renderHTML(c, fiber.StatusOK, viewerShell, shellData{
			Title:    h.Title,
			PageBase: "/secure-document/" + c.Params("docID") + "/page/",
		})
	}
}

// SecureDocumentPage returns one watermarked page as base64 PNG.
// A page outside the document answers 404 {"end": true}.
//
// @Summary   Fetch one page
// @Tags      viewer
// @Produce   json
// @Security  BearerAuth
// @Param     docID  path int true "Document id"
// @Param     pageNo path int true "1-based page number"
// @Success   200 {object} service.PageImage
// @Failure   403 {object} map[string]string
// @Failure   404 {object} map[string]bool
// @Failure   500 {object} errorPayload
// @Router    /secure-document/{docID}/page/{pageNo}/ [get]
func SecureDocumentPage(viewer service.ViewerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := middleware.PrincipalFrom(c)
		if p == nil {
			return fiber.ErrUnauthorized
		}
		docID, err := c.ParamsInt("docID")
		if err != nil || docID <= 0 {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
		}
		pageNo, err := pageParam(c.Params("pageNo"))
		if err != nil {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "resource not found")
		}

		pg, err := viewer.Page(c.UserContext(), p, int64(docID), pageNo)
		if err != nil {
			return viewerError(c, err)
		}
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(pg)
	}
}

// pageParam parses a page segment. Numbers too large for an int are clamped
// so the viewer still authorizes the request and then reports the end.
func pageParam(raw string) (int, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	var numErr *strconv.NumError
	if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
		err = nil
	}
	if err != nil {
		return 0, err
	}
	switch {
	case n > int64(math.MaxInt):
		return math.MaxInt, nil
	case n < int64(math.MinInt):
		return math.MinInt, nil
	}
	return int(n), nil
}

func viewerError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAccessDenied):
		return accessDenied(c)
	case errors.Is(err, service.ErrPageOutOfRange):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"end": true})
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, render.ErrConversion):
		return writeError(c, fiber.StatusInternalServerError, "CONVERSION_FAILED", "document could not be rendered")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func renderHTML(c *fiber.Ctx, status int, t *template.Template, data any) error {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
	c.Type("html", "utf-8")
	return c.Status(status).Send(buf.Bytes())
}
