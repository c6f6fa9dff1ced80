package item

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	accountrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/account"
	itemrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	transactionrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/transaction"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/ledger"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/models"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

// Register registers item routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.GET("/:id", Get)
	g.GET("/:id/accounts", Accounts)
	g.GET("/:id/accounts/:accountId/transactions", Transactions)
	g.POST("/:id/sync", Sync)
	g.DELETE("/:id", Archive)
}

// List returns all live items for a client
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "item_handler.List")
	defer span.End()

	clientID := c.QueryParam("client_id")
	if clientID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "client_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*itemrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	items, err := repo.ListByClient(ctx, clientID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list items")
	}

	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// Get returns a single item by ID
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "item_handler.Get")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*itemrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	it, err := repo.GetByID(ctx, id)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get item")
	}
	if it == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "item not found")
	}

	return c.JSON(http.StatusOK, it)
}

// Accounts returns all accounts stored under an item, active or not
func Accounts(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "item_handler.Accounts")
	defer span.End()

	id := c.Param("id")

	ctx, items, err := ectoinject.GetContext[*itemrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	it, err := items.GetByID(ctx, id)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get item")
	}
	if it == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "item not found")
	}

	ctx, accounts, err := ectoinject.GetContext[*accountrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	list, err := accounts.GetByItem(ctx, it.ID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list accounts")
	}

	return c.JSON(http.StatusOK, map[string]any{"accounts": list})
}

// Transactions returns the ledger entries under one of the item's accounts.
// Removed entries are excluded unless include_removed is set.
func Transactions(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "item_handler.Transactions")
	defer span.End()

	id := c.Param("id")
	accountID := c.Param("accountId")
	includeRemoved := c.QueryParam("include_removed") == "true"

	ctx, accounts, err := ectoinject.GetContext[*accountrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	acct, err := accounts.GetByID(ctx, accountID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get account")
	}
	if acct == nil || acct.ItemID != id {
		return httperror.NewHTTPError(http.StatusNotFound, "account not found")
	}

	ctx, txns, err := ectoinject.GetContext[*transactionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	list, err := txns.ListByAccount(ctx, acct.ID, includeRemoved)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list transactions")
	}

	return c.JSON(http.StatusOK, map[string]any{"transactions": list})
}

// Sync runs a full ledger sweep for the item and returns the sweep counters
func Sync(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "item_handler.Sync")
	defer span.End()

	id := c.Param("id")

	ctx, engine, err := ectoinject.GetContext[*ledger.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync engine")
	}

	result, err := engine.SyncItem(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrItemNotFound):
			return httperror.NewHTTPError(http.StatusNotFound, "item not found")
		case errors.Is(err, ledger.ErrItemArchived),
			errors.Is(err, ledger.ErrItemNotSyncable),
			errors.Is(err, ledger.ErrNoActiveAccounts):
			return httperror.WrapError(http.StatusConflict, err)
		default:
			return httperror.WrapError(http.StatusInternalServerError, err)
		}
	}

	return c.JSON(http.StatusOK, result)
}

// Archive soft-deletes an item
func Archive(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "item_handler.Archive")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*itemrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	it, err := repo.GetByID(ctx, id)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get item")
	}
	if it == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "item not found")
	}
	if it.Status == models.ItemStatusArchived {
		return c.NoContent(http.StatusNoContent)
	}

	if err := repo.Archive(ctx, id); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to archive item")
	}

	return c.NoContent(http.StatusNoContent)
}
