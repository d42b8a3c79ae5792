package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ScanRequest is the body of a scan submission.
type ScanRequest struct {
	Content string `json:"content"`
}

// LocalsKey holds the validated *ScanRequest for the next handler.
const LocalsKey = "scan_request"

type Config struct {
	MaxScanLength int
	Logger        *zap.Logger
}

// ScanMiddleware rejects submissions that are not JSON, are empty, exceed the
// maximum length or are not valid UTF-8.
func ScanMiddleware(cfg Config) fiber.Handler {
	if cfg.MaxScanLength <= 0 {
		cfg.MaxScanLength = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Content-Type must be application/json",
			})
		}

		var req ScanRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		req.Content = sanitizeString(req.Content)
		if strings.TrimSpace(req.Content) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "content is required",
			})
		}
		if len(req.Content) > cfg.MaxScanLength {
			cfg.Logger.Warn("Oversized scan rejected",
				zap.String("ip", c.IP()),
				zap.Int("length", len(req.Content)),
			)
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "content exceeds maximum length",
			})
		}
		if !utf8.ValidString(req.Content) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "content must be valid UTF-8",
			})
		}

		c.Locals(LocalsKey, &req)
		return c.Next()
	}
}

func sanitizeString(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}
