package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"automation-service/internal/db"
	"automation-service/internal/models"
)

type Handler struct {
	db     *db.DB
	logger *logrus.Logger
}

func NewHandler(database *db.DB, logger *logrus.Logger) *Handler {
	return &Handler{db: database, logger: logger}
}

func (h *Handler) CreateTemplate(c *gin.Context) {
	var t models.NotificationTemplate
	if err := c.ShouldBindJSON(&t); err != nil {
		h.logger.Errorf("Invalid request body for template: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := t.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.db.CreateTemplate(c.Request.Context(), t)
	if err != nil {
		h.logger.Errorf("Failed to create template: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create template"})
		return
	}

	h.logger.Infof("Created template: %s", created.ID)
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.db.ListTemplates(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to list templates: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list templates"})
		return
	}
	c.JSON(http.StatusOK, templates)
}

func (h *Handler) GetTemplate(c *gin.Context) {
	id := c.Param("id")
	t, err := h.db.GetTemplate(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		h.logger.Errorf("Failed to get template %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get template"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTemplate(c *gin.Context) {
	var t models.NotificationTemplate
	if err := c.ShouldBindJSON(&t); err != nil {
		h.logger.Errorf("Invalid request body for template: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	t.ID = c.Param("id")
	if err := t.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.UpdateTemplate(c.Request.Context(), t); err != nil {
		if errors.Is(err, db.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		h.logger.Errorf("Failed to update template %s: %v", t.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update template"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTemplate(c *gin.Context) {
	id := c.Param("id")
	err := h.db.DeleteTemplate(c.Request.Context(), id)
	switch {
	case err == nil:
		h.logger.Infof("Deleted template: %s", id)
		c.JSON(http.StatusOK, gin.H{"message": "Template deleted"})
	case errors.Is(err, db.ErrTemplateInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "Template is referenced by a rule"})
	case errors.Is(err, db.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
	default:
		h.logger.Errorf("Failed to delete template %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete template"})
	}
}

func (h *Handler) CreateRule(c *gin.Context) {
	var r models.AutomationRule
	if err := c.ShouldBindJSON(&r); err != nil {
		h.logger.Errorf("Invalid request body for rule: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.db.CreateRule(c.Request.Context(), r)
	if err != nil {
		h.logger.Errorf("Failed to create rule: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create rule"})
		return
	}

	h.logger.Infof("Created rule: %s", created.ID)
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.db.ListRules(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to list rules: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rules"})
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *Handler) GetRule(c *gin.Context) {
	id := c.Param("id")
	r, err := h.db.GetRule(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		h.logger.Errorf("Failed to get rule %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get rule"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) UpdateRule(c *gin.Context) {
	var r models.AutomationRule
	if err := c.ShouldBindJSON(&r); err != nil {
		h.logger.Errorf("Invalid request body for rule: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	r.ID = c.Param("id")
	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.UpdateRule(c.Request.Context(), r); err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		h.logger.Errorf("Failed to update rule %s: %v", r.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update rule"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	if err := h.db.DeleteRule(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		h.logger.Errorf("Failed to delete rule %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete rule"})
		return
	}
	h.logger.Infof("Deleted rule: %s", id)
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted"})
}

func (h *Handler) ActivateRule(c *gin.Context) {
	id := c.Param("id")

	r, err := h.db.GetRule(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		h.logger.Errorf("Failed to get rule %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get rule"})
		return
	}
	// A rule must name its trigger before it can go live.
	if r.TriggerEventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rule has no trigger event type"})
		return
	}

	if err := h.db.SetRuleActive(c.Request.Context(), id, true); err != nil {
		h.logger.Errorf("Failed to activate rule %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to activate rule"})
		return
	}
	h.logger.Infof("Activated rule: %s", id)
	c.JSON(http.StatusOK, gin.H{"message": "Rule activated"})
}

// DeactivateRule flips the rule off and cancels everything it still had in
// flight, so no pending step fires after the operator turned the rule off.
func (h *Handler) DeactivateRule(c *gin.Context) {
	id := c.Param("id")
	if err := h.db.SetRuleActive(c.Request.Context(), id, false); err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		h.logger.Errorf("Failed to deactivate rule %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate rule"})
		return
	}

	cancelled, err := h.db.CancelByRule(c.Request.Context(), id)
	if err != nil {
		h.logger.Errorf("Failed to cancel executions for rule %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rule deactivated but executions not cancelled"})
		return
	}

	h.logger.Infof("Deactivated rule %s, cancelled %d executions", id, cancelled)
	c.JSON(http.StatusOK, gin.H{"message": "Rule deactivated", "cancelled_executions": cancelled})
}

func (h *Handler) ListRuleExecutions(c *gin.Context) {
	ruleID := c.Param("id")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	execs, err := h.db.ListExecutionsByRule(c.Request.Context(), ruleID, limit, offset)
	if err != nil {
		h.logger.Errorf("Failed to list executions for rule %s: %v", ruleID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list executions"})
		return
	}
	c.JSON(http.StatusOK, execs)
}

func (h *Handler) GetExecution(c *gin.Context) {
	id := c.Param("id")
	e, err := h.db.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
			return
		}
		h.logger.Errorf("Failed to get execution %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get execution"})
		return
	}
	c.JSON(http.StatusOK, e)
}
