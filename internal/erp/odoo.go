package erp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kolo/xmlrpc"
)

// OdooConfig holds Odoo connection settings
type OdooConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

// OdooProvider reads order snapshots from an Odoo instance over XML-RPC
type OdooProvider struct {
	cfg       OdooConfig
	commonURL string
	objectURL string

	mu  sync.Mutex
	uid int
}

// NewOdooProvider creates an Odoo-backed OrderSnapshotProvider
func NewOdooProvider(cfg OdooConfig) *OdooProvider {
	return &OdooProvider{
		cfg:       cfg,
		commonURL: fmt.Sprintf("%s/xmlrpc/2/common", cfg.URL),
		objectURL: fmt.Sprintf("%s/xmlrpc/2/object", cfg.URL),
	}
}

// Code returns the provider code
func (p *OdooProvider) Code() string { return "odoo" }

// Name returns the provider name
func (p *OdooProvider) Name() string { return "Odoo ERP" }

// authenticate resolves and caches the Odoo uid
func (p *OdooProvider) authenticate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.uid != 0 {
		return p.uid, nil
	}

	client, err := xmlrpc.NewClient(p.commonURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	args := []interface{}{p.cfg.Database, p.cfg.Username, p.cfg.Password, make([]interface{}, 0)}
	var uid int
	if err := client.Call("authenticate", args, &uid); err != nil {
		return 0, fmt.Errorf("authentication failed: %w", err)
	}

	p.uid = uid
	return uid, nil
}

// executeKw runs a single execute_kw call against the object endpoint
func (p *OdooProvider) executeKw(model, method string, args []interface{}, kwargs map[string]interface{}, result interface{}) error {
	uid, err := p.authenticate()
	if err != nil {
		return err
	}

	client, err := xmlrpc.NewClient(p.objectURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	callArgs := []interface{}{
		p.cfg.Database,
		uid,
		p.cfg.Password,
		model,
		method,
		args,
		kwargs,
	}
	if err := client.Call("execute_kw", callArgs, result); err != nil {
		return fmt.Errorf("execute_kw %s.%s failed: %w", model, method, err)
	}
	return nil
}

// GetOrderSnapshot fetches and normalizes a sale order
func (p *OdooProvider) GetOrderSnapshot(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	domain := []interface{}{[]interface{}{"name", "=", orderID}}

	var orders []map[string]interface{}
	err := p.executeKw("sale.order", "search_read",
		[]interface{}{domain},
		map[string]interface{}{
			"fields": []string{"name", "partner_id", "partner_shipping_id", "order_line"},
			"limit":  1,
		}, &orders)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	order := orders[0]

	snapshot := &OrderSnapshot{
		OrderNumber:  asString(order["name"]),
		CustomerName: relationName(order["partner_id"]),
	}

	if shipID, ok := relationID(order["partner_shipping_id"]); ok {
		var partners []map[string]interface{}
		err = p.executeKw("res.partner", "read",
			[]interface{}{[]interface{}{shipID}},
			map[string]interface{}{"fields": []string{"contact_address", "phone"}}, &partners)
		if err == nil && len(partners) > 0 {
			snapshot.ShippingAddress = strings.TrimSpace(asString(partners[0]["contact_address"]))
			snapshot.CustomerPhone = asString(partners[0]["phone"])
		}
	}

	if lineIDs, ok := order["order_line"].([]interface{}); ok && len(lineIDs) > 0 {
		var lines []map[string]interface{}
		err = p.executeKw("sale.order.line", "read",
			[]interface{}{lineIDs},
			map[string]interface{}{"fields": []string{"product_id", "name", "product_uom_qty"}}, &lines)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			snapshot.Items = append(snapshot.Items, OrderItem{
				Sku:           relationName(line["product_id"]),
				Name:          asString(line["name"]),
				QuantityTotal: int(asFloat(line["product_uom_qty"])),
			})
		}
	}

	return snapshot, nil
}

// IngestSyncEvent logs the delivery outcome as a message on the sale order
func (p *OdooProvider) IngestSyncEvent(ctx context.Context, event SyncEvent) error {
	domain := []interface{}{[]interface{}{"name", "=", event.OrderID}}
	var ids []int64
	err := p.executeKw("sale.order", "search",
		[]interface{}{domain},
		map[string]interface{}{"limit": 1}, &ids)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("order %s not found in ERP", event.OrderID)
	}

	body := fmt.Sprintf("Entrega %s (QR %s)", event.EventType, event.QrID)
	var msgID int64
	return p.executeKw("sale.order", "message_post",
		[]interface{}{[]interface{}{ids[0]}},
		map[string]interface{}{"body": body}, &msgID)
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

// relationName extracts the display name from an Odoo many2one tuple [id, name]
func relationName(v interface{}) string {
	tuple, ok := v.([]interface{})
	if !ok || len(tuple) < 2 {
		return ""
	}
	return asString(tuple[1])
}

// relationID extracts the id from an Odoo many2one tuple
func relationID(v interface{}) (int64, bool) {
	tuple, ok := v.([]interface{})
	if !ok || len(tuple) < 1 {
		return 0, false
	}
	switch id := tuple[0].(type) {
	case int64:
		return id, true
	case float64:
		return int64(id), true
	}
	return 0, false
}
