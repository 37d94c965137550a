// Package http exposes the email operations as remote-callable tools.
package http

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/core/service/emailops"
	"github.com/kamiwaza-drew/tool-email-mcp/infra/middleware"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/apperr"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/metrics"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/ratelimit"
)

// sendDebounceWindow suppresses identical outbound requests long enough
// to absorb client retry storms without double-sending.
const sendDebounceWindow = 30 * time.Second

// outboundTools dispatch mail on the caller's behalf; a duplicate here
// means a duplicate message in someone's inbox.
var outboundTools = map[string]bool{
	"send_email":    true,
	"reply_email":   true,
	"forward_email": true,
}

// ToolHandler dispatches POST /tools/:name calls to the orchestrator
// bound to the request's session. Every invocation passes through the
// protector, which caps in-flight calls and rate limits per client and
// tool before the provider is touched.
type ToolHandler struct {
	protector *ratelimit.Protector
	debouncer *ratelimit.Debouncer
}

func NewToolHandler(redisClient *redis.Client) *ToolHandler {
	return &ToolHandler{
		protector: ratelimit.NewProtector(redisClient, ratelimit.DefaultConfig()),
		debouncer: ratelimit.NewDebouncer(redisClient, sendDebounceWindow),
	}
}

func (h *ToolHandler) Register(app fiber.Router) {
	app.Post("/tools/:name", h.Invoke)
}

type configureRequest struct {
	Provider    string            `json:"provider"`
	Credentials map[string]string `json:"credentials"`
}

type listRequest struct {
	Folder    string `json:"folder"`
	Limit     int    `json:"limit"`
	PageToken string `json:"page_token"`
}

type readRequest struct {
	MessageID string `json:"message_id"`
}

type sendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	CC      []string `json:"cc"`
	BCC     []string `json:"bcc"`
	HTML    bool     `json:"html"`
}

type replyRequest struct {
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
	ReplyAll  bool   `json:"reply_all"`
	HTML      bool   `json:"html"`
}

type forwardRequest struct {
	MessageID string   `json:"message_id"`
	To        []string `json:"to"`
	Comment   string   `json:"comment"`
}

type markReadRequest struct {
	MessageID string `json:"message_id"`
	Read      *bool  `json:"read"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Invoke runs one named tool. Results are flat JSON objects carrying a
// success discriminator; failures carry the error message, the stable
// category code, and auth_required when re-authentication would fix it.
func (h *ToolHandler) Invoke(c *fiber.Ctx) error {
	name := c.Params("name")
	ops := middleware.Operations(c)
	if ops == nil {
		return toolFailure(c, apperr.Internal("no orchestrator bound to request"))
	}

	key := clientKey(c) + ":" + name
	result, release := h.protector.Acquire(c.Context(), key)
	if !result.Allowed || release == nil {
		if result.ShouldWait {
			c.Set("Retry-After", result.WaitDuration.Round(time.Second).String())
		}
		return toolFailure(c, apperr.New(apperr.CodeRateLimited, result.Reason, fiber.StatusTooManyRequests))
	}
	defer release()

	if outboundTools[name] {
		digest := key + ":" + bodyDigest(c.Body())
		if h.debouncer.IsDuplicate(c.Context(), digest) {
			return toolFailure(c, apperr.New(apperr.CodeRateLimited,
				"duplicate request suppressed", fiber.StatusTooManyRequests))
		}
		h.debouncer.Mark(c.Context(), digest)
	}

	start := time.Now()
	err := h.dispatch(c, name, ops)
	metrics.RecordLatency(name, time.Since(start))
	return err
}

// clientKey scopes protection to the caller: the session when one is
// bound, the peer address otherwise.
func clientKey(c *fiber.Ctx) string {
	if id := middleware.SessionID(c); id != "" {
		return id
	}
	return c.IP()
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (h *ToolHandler) dispatch(c *fiber.Ctx, name string, ops *emailops.Operations) error {
	ctx := c.Context()

	switch name {
	case "configure_email_provider":
		var req configureRequest
		if err := parseBody(c, &req); err != nil {
			return toolFailure(c, err)
		}
		result, err := ops.ConfigureProvider(ctx, req.Provider, domain.Credentials(req.Credentials))
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, result)

	case "list_emails":
		var req listRequest
		if err := parseBody(c, &req); err != nil {
			return toolFailure(c, err)
		}
		page, err := ops.ListEmails(ctx, req.Folder, req.Limit, req.PageToken)
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, page)

	case "read_email":
		var req readRequest
		if err := parseBody(c, &req); err != nil {
			return toolFailure(c, err)
		}
		msg, err := ops.ReadEmail(ctx, req.MessageID)
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, msg)

	case "send_email":
		var req sendRequest
		if err := parseBody(c, &req); err != nil {
			return toolFailure(c, err)
		}
		result, err := ops.SendEmail(ctx, req.To, req.Subject, req.Body, req.CC, req.BCC, req.HTML)
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, result)

	case "reply_email":
		var req replyRequest
		if err := parseBody(c, &req); err != nil {
			return toolFailure(c, err)
		}
		result, err := ops.ReplyEmail(ctx, req.MessageID, req.Body, req.ReplyAll, req.HTML)
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, result)

	case "forward_email":
		var req forwardRequest
		if err := parseBody(c, &req); err != nil {
			return toolFailure(c, err)
		}
		result, err := ops.ForwardEmail(ctx, req.MessageID, req.To, req.Comment)
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, result)

	case "delete_email":
		var req readRequest
		if err := parseBody(c, &req); err != nil {
			return toolFailure(c, err)
		}
		result, err := ops.DeleteEmail(ctx, req.MessageID)
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, result)

	case "mark_email_read":
		var req markReadRequest
		if err := parseBody(c, &req); err != nil {
			return toolFailure(c, err)
		}
		read := true
		if req.Read != nil {
			read = *req.Read
		}
		result, err := ops.MarkRead(ctx, req.MessageID, read)
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, result)

	case "search_emails":
		var req searchRequest
		if err := parseBody(c, &req); err != nil {
			return toolFailure(c, err)
		}
		page, err := ops.SearchEmails(ctx, req.Query, req.Limit)
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, page)

	case "get_folders":
		folders, err := ops.Folders(ctx)
		if err != nil {
			return toolFailure(c, err)
		}
		return toolSuccess(c, fiber.Map{"folders": folders})

	default:
		return toolFailure(c, apperr.UnknownTool(name))
	}
}

// parseBody decodes the request body into req. An empty body is valid;
// every argument has a default or is validated downstream.
func parseBody(c *fiber.Ctx, req any) error {
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, req); err != nil {
		return apperr.BadRequest("invalid request body: " + err.Error())
	}
	return nil
}

// toolSuccess flattens the payload and adds the success discriminator.
func toolSuccess(c *fiber.Ctx, payload any) error {
	flat := fiber.Map{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return toolFailure(c, apperr.InternalWithError(err))
		}
		if err := json.Unmarshal(raw, &flat); err != nil {
			return toolFailure(c, apperr.InternalWithError(err))
		}
	}
	flat["success"] = true
	return c.JSON(flat)
}

func toolFailure(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	body := fiber.Map{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	}
	if appErr.AuthRequired {
		body["auth_required"] = true
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	return c.Status(appErr.HTTPStatus()).JSON(body)
}
