package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/soyeahso/koko/internal/agent"
	"github.com/soyeahso/koko/internal/domain"
	"github.com/soyeahso/koko/internal/logging"
	"github.com/soyeahso/koko/internal/shoplist"
)

// ManageListName is the tool name the model calls.
const ManageListName = "manage_list"

const goodBuySuffix = " 🌟 Great price — this item is at a low point!"

// PriceOracle judges and records quoted prices.
type PriceOracle interface {
	IsGoodBuy(ctx context.Context, name string, price float64) bool
	Record(ctx context.Context, name string, price float64)
}

type manageListInput struct {
	Action   string  `json:"action" jsonschema:"required,enum=add,enum=remove,enum=update,description=The action to perform"`
	ItemName string  `json:"item_name" jsonschema:"required,description=The grocery item name (e.g. Milk (1L))"`
	Quantity int     `json:"quantity,omitempty" jsonschema:"default=1,description=Quantity to add. For update this sets the new quantity"`
	Price    float64 `json:"price,omitempty" jsonschema:"description=Unit price in AUD when known from a lookup"`
}

// ManageListResult is the tool's JSON output.
type ManageListResult struct {
	UpdatedList []domain.ShoppingListItem `json:"updated_list"`
	Message     string                    `json:"message"`
}

// ManageList adds, removes and updates items on the list slot of the
// current turn.
type ManageList struct {
	store  *shoplist.Store
	oracle PriceOracle
	log    *logging.Logger

	// OnGoodBuy, when set, is called for every add flagged as a good buy.
	OnGoodBuy func(ctx context.Context, item string, price float64)
}

// NewManageList creates the tool. A nil oracle disables good-buy checks.
func NewManageList(store *shoplist.Store, oracle PriceOracle, log *logging.Logger) *ManageList {
	return &ManageList{store: store, oracle: oracle, log: log.Sub("tools.manage_list")}
}

var _ agent.Tool = (*ManageList)(nil)

func (m *ManageList) Name() string { return ManageListName }

func (m *ManageList) Description() string {
	return "Add, remove, or update items on the user's shopping list. " +
		"Use this when the user wants to add new items, remove items, or change quantities. " +
		"Include the price when you know it from a lookup. Returns the updated list and a summary message."
}

func (m *ManageList) InputSchema() string { return agent.SchemaFor(&manageListInput{}) }

// Execute parses input leniently: numbers may arrive as strings or floats.
func (m *ManageList) Execute(ctx context.Context, input string) (string, error) {
	if !gjson.Valid(input) {
		return errorResult("invalid input: not valid JSON"), nil
	}
	in := gjson.Parse(input)
	action := strings.ToLower(strings.TrimSpace(in.Get("action").String()))
	name := strings.TrimSpace(in.Get("item_name").String())
	if name == "" && action != "" {
		return errorResult("item_name is required"), nil
	}

	qty := 1
	if q := in.Get("quantity"); q.Exists() {
		qty = int(q.Int())
	}
	if qty < 1 {
		qty = 1
	}
	price := in.Get("price").Float()
	if price < 0 {
		price = 0
	}

	res := m.Apply(ctx, action, name, qty, price)
	return jsonResult(res)
}

// Apply performs one list edit on the slot keyed by ctx.
func (m *ManageList) Apply(ctx context.Context, action, name string, qty int, price float64) ManageListResult {
	goodBuy := false
	if action == "add" && price > 0 && m.oracle != nil {
		goodBuy = m.oracle.IsGoodBuy(ctx, name, price)
	}

	slot := m.store.Slot(shoplist.KeyFromContext(ctx))

	slot.Lock()
	items := slot.Read()
	var message string
	switch action {
	case "add":
		var total int
		var existed bool
		items, total, existed = shoplist.Add(items, name, qty, price, goodBuy)
		if existed {
			message = fmt.Sprintf("Updated %s quantity to %d", name, total)
		} else {
			message = fmt.Sprintf("Added %dx %s to the list", qty, name)
		}
		if goodBuy {
			message += goodBuySuffix
		}

	case "remove":
		var removed bool
		items, removed = shoplist.Remove(items, name)
		if removed {
			message = fmt.Sprintf("Removed %s from the list", name)
		} else {
			message = fmt.Sprintf("%s was not found on the list", name)
		}

	case "update":
		if shoplist.SetQuantity(items, name, qty) {
			message = fmt.Sprintf("Updated %s quantity to %d", name, qty)
		} else {
			message = fmt.Sprintf("%s was not found on the list. Use 'add' to add it first.", name)
		}

	default:
		message = fmt.Sprintf("Unknown action '%s'. Use 'add', 'remove', or 'update'.", action)
	}
	slot.Seed(items)
	out := slot.Read()
	slot.Unlock()

	m.log.Info().Str("action", action).Str("item", name).Int("items", len(out)).Msg(message)

	if action == "add" && price > 0 && m.oracle != nil {
		m.oracle.Record(context.WithoutCancel(ctx), name, price)
	}
	if goodBuy && m.OnGoodBuy != nil {
		m.OnGoodBuy(ctx, name, price)
	}

	return ManageListResult{UpdatedList: out, Message: message}
}
