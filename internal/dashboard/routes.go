package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/quill/internal/config"
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/grammar"
	"github.com/zulandar/quill/internal/models"
	"github.com/zulandar/quill/internal/recording"
	"github.com/zulandar/quill/internal/session"
	"gorm.io/gorm"
)

// defaultListLimit bounds GET /api/sessions when no limit is given.
const defaultListLimit = 50

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	api := router.Group("/api")

	api.GET("/sessions", handleSessionList(opts.DB))
	api.GET("/sessions/:id", handleSessionDetail(opts.DB, opts.Store))
	api.POST("/sessions/:id/enhance", handleEnhance(opts.Store, opts.Enhancer))
	api.POST("/sessions/:id/cancel", handleCancel(opts.Enhancer))
	api.GET("/sessions/:id/progress", handleProgress(opts.Enhancer))

	api.POST("/recording", handleRecording(opts.DB, opts.Stager))
	api.PUT("/settings/:key", handleSetting(opts.Store))

	api.GET("/templates", handleTemplates(opts.Store))
	api.GET("/templates/:id/grammar", handleGrammar(opts.Store))

	api.GET("/events", handleSSE(opts.Hub))
}

func abortError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// storeError maps store errors to a status code.
func storeError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrNotFound) {
		abortError(c, http.StatusNotFound, err)
		return
	}
	abortError(c, http.StatusInternalServerError, err)
}

func handleSessionList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultListLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				abortError(c, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
				return
			}
			limit = n
		}
		rows, err := SessionSummary(c.Request.Context(), db, limit)
		if err != nil {
			abortError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": rows})
	}
}

func handleSessionDetail(db *gorm.DB, store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			storeError(c, err)
			return
		}
		detail, err := LoadSessionDetail(c.Request.Context(), db, sess)
		if err != nil {
			abortError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

// templateChoice is the template selection carried by enhance and
// recording requests.
type templateChoice struct {
	TemplateID string `json:"template_id"`
	NoTemplate bool   `json:"no_template"`
}

func (t templateChoice) ref() (enhance.TemplateRef, error) {
	switch {
	case t.NoTemplate && t.TemplateID != "":
		return enhance.TemplateRef{}, errors.New("template_id and no_template are mutually exclusive")
	case t.NoTemplate:
		return enhance.NoTemplate(), nil
	case t.TemplateID != "":
		return enhance.UseTemplate(t.TemplateID), nil
	default:
		return enhance.DefaultTemplate(), nil
	}
}

// handleEnhance starts an enhancement in the background and returns 202.
// Progress and the note stream over /api/events.
func handleEnhance(store *session.Store, enh Enhancer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req templateChoice
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				abortError(c, http.StatusBadRequest, err)
				return
			}
		}
		ref, err := req.ref()
		if err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
		if _, err := store.Get(c.Request.Context(), id); err != nil {
			storeError(c, err)
			return
		}

		trigger := enhance.TriggerManual
		if ref.IsSet() {
			trigger = enhance.TriggerTemplate
		}
		queued := enh.Pending(id)

		runCtx := context.WithoutCancel(c.Request.Context())
		go func() {
			res, err := enh.Enhance(runCtx, id, enhance.Options{Trigger: trigger, Template: ref})
			if err != nil {
				log.Warn("api enhancement ended with error", "session", id, "error", err)
				return
			}
			log.Info("api enhancement finished", "session", id, "outcome", res.Outcome)
		}()

		c.JSON(http.StatusAccepted, gin.H{
			"session_id": id,
			"trigger":    trigger,
			"template":   ref.String(),
			"queued":     queued,
		})
	}
}

func handleCancel(enh Enhancer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		c.JSON(http.StatusOK, gin.H{"session_id": id, "cancelled": enh.Cancel(id)})
	}
}

func handleProgress(enh Enhancer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		p, active := enh.Progress(id)
		c.JSON(http.StatusOK, gin.H{
			"session_id": id,
			"progress":   p,
			"active":     active,
			"pending":    enh.Pending(id),
		})
	}
}

type recordingRequest struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status" binding:"required"`
	templateChoice
}

// handleRecording writes the recording state row, as the recorder does.
// The poller picks the change up and drives the auto-enhance trigger.
func handleRecording(db *gorm.DB, stager Stager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recordingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
		status, err := recording.ParseStatus(req.Status)
		if err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
		ref, err := req.ref()
		if err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
		if status != recording.Inactive && req.SessionID == "" {
			abortError(c, http.StatusBadRequest, errors.New("session_id is required while recording"))
			return
		}

		staged := false
		if ref.IsSet() && req.SessionID != "" {
			if stager == nil {
				abortError(c, http.StatusServiceUnavailable, errors.New("auto-enhance is not running"))
				return
			}
			stager.Stage(req.SessionID, ref)
			staged = true
		}

		u := recording.Update{SessionID: req.SessionID, Status: status}
		if err := recording.Save(c.Request.Context(), db, u); err != nil {
			abortError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": u.SessionID, "status": u.Status, "staged": staged})
	}
}

// editableSettings lists the keys PUT /api/settings accepts.
var editableSettings = map[string]bool{
	models.SettingSelectedTemplate: true,
	models.SettingProviderType:     true,
	models.SettingProviderModel:    true,
	models.SettingProviderBaseURL:  true,
}

func handleSetting(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		if !editableSettings[key] {
			abortError(c, http.StatusBadRequest, errors.New("unknown setting "+strconv.Quote(key)))
			return
		}
		var req struct {
			Value string `json:"value"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}

		ctx := c.Request.Context()
		switch key {
		case models.SettingProviderType:
			if req.Value != config.ProviderLocal && req.Value != config.ProviderAnthropic {
				abortError(c, http.StatusBadRequest, errors.New("provider.type must be local or anthropic"))
				return
			}
		case models.SettingSelectedTemplate:
			if req.Value != "" {
				if _, err := store.Template(ctx, req.Value); err != nil {
					storeError(c, err)
					return
				}
			}
		}

		if err := store.SetSetting(ctx, key, req.Value); err != nil {
			abortError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
	}
}

type templateView struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Sections    []grammar.Section `json:"sections"`
}

func handleTemplates(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tmpls, err := store.Templates(c.Request.Context())
		if err != nil {
			abortError(c, http.StatusInternalServerError, err)
			return
		}
		out := make([]templateView, len(tmpls))
		for i := range tmpls {
			out[i] = templateView{
				ID:          tmpls[i].ID,
				Title:       tmpls[i].Title,
				Description: tmpls[i].Description,
				Sections:    grammar.TemplateSections(&tmpls[i]),
			}
		}
		c.JSON(http.StatusOK, gin.H{"templates": out})
	}
}

// handleGrammar returns the compiled GBNF grammar as plain text.
func handleGrammar(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tmpl, err := store.Template(c.Request.Context(), c.Param("id"))
		if err != nil {
			storeError(c, err)
			return
		}
		c.String(http.StatusOK, grammar.Compile(grammar.TemplateSections(tmpl)))
	}
}
