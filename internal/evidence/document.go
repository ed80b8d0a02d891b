package evidence

import (
	"fmt"
	"time"

	"github.com/mesanova/entregas/internal/erp"
)

// LegalClause is the confirmation text printed on every evidence document
const LegalClause = "El cliente declara haber recibido la mercancia descrita en este documento " +
	"en la direccion de entrega registrada, en la fecha y hora indicadas, y acepta " +
	"que la verificacion por codigo OTP constituye su firma de recibido."

// ConfirmationDetails carries everything the evidence document captures
type ConfirmationDetails struct {
	OrderID       string
	QrID          string
	WarehouseID   string
	BatchID       string
	TransporterID string
	ConfirmedAt   time.Time
	HasIncident   bool
	IncidentNotes string
	SignatureRef  string
	Snapshot      *erp.OrderSnapshot
}

// BuildConfirmationDocument assembles and renders the evidence PDF
func BuildConfirmationDocument(d ConfirmationDetails) []byte {
	title := fmt.Sprintf("CONSTANCIA DE ENTREGA - Pedido %s", d.OrderID)

	lines := []string{
		"",
		fmt.Sprintf("Pedido: %s", d.OrderID),
		fmt.Sprintf("Entrega QR: %s", d.QrID),
		fmt.Sprintf("Bodega: %s   Lote: %s", d.WarehouseID, d.BatchID),
		fmt.Sprintf("Transportador: %s", d.TransporterID),
		fmt.Sprintf("Fecha de confirmacion: %s", d.ConfirmedAt.UTC().Format("2006-01-02 15:04:05 MST")),
		"",
	}

	if d.Snapshot != nil {
		lines = append(lines,
			fmt.Sprintf("Cliente: %s", d.Snapshot.CustomerName),
			fmt.Sprintf("Direccion de entrega: %s", d.Snapshot.ShippingAddress),
			"")
		if len(d.Snapshot.Items) > 0 {
			lines = append(lines, "Articulos entregados:")
			for _, item := range d.Snapshot.Items {
				lines = append(lines, fmt.Sprintf("  - %s x%d (%s)", item.Name, item.QuantityTotal, item.Sku))
			}
			lines = append(lines, "")
		}
	}

	if d.HasIncident {
		lines = append(lines,
			"ENTREGA CON INCIDENTE",
			fmt.Sprintf("Notas del incidente: %s", d.IncidentNotes),
			"")
	}

	if d.SignatureRef != "" {
		lines = append(lines, fmt.Sprintf("Referencia de firma: %s", d.SignatureRef), "")
	}

	lines = append(lines, LegalClause)

	return Render(title, lines)
}
