package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/utils"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/webhooks"
)

// MaxBodySize bounds inbound delivery bodies.
const MaxBodySize = 1 << 20

// Register registers webhook routes
func Register(g *echo.Group) {
	g.POST("", Receive)
}

// Receive ingests one provider delivery. Handler failures are recorded on the
// event and still acknowledged with 200 so the provider stops redelivering;
// only a malformed body or a failure to log the delivery is refused.
func Receive(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "webhook_handler.Receive")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxBodySize))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	payload.Raw = body

	if _, err := utils.Validate(&payload); err != nil {
		return httperror.WrapError(http.StatusBadRequest, err)
	}

	ctx, dispatcher, err := ectoinject.GetContext[*webhooks.Dispatcher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get dispatcher")
	}

	outcome, err := dispatcher.Handle(ctx, &payload, time.Now())
	if err != nil {
		return httperror.WrapError(http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, outcome)
}
