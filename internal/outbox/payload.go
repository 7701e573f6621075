package outbox

import (
	"encoding/json"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
)

// Operation tags an outbox entry with the backend call sequence it
// implies. Plain operations map to a single backend write; the composite
// operations map to the ordered multi-call sequences the dispatcher runs.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"

	OpPenagihanCreate  Operation = "penagihan-create"
	OpPenagihanUpdate  Operation = "penagihan-update"
	OpPenagihanDelete  Operation = "penagihan-delete"
	OpPengirimanCreate Operation = "pengiriman-create"
	OpPengirimanUpdate Operation = "pengiriman-update"
	OpPengirimanDelete Operation = "pengiriman-delete"
)

// Payloads form a tagged union: exactly one payload type per Operation,
// selected by DecodePayload. The dispatcher never reaches into loose
// maps; unknown tags fail decoding.

// InsertPayload carries the row to insert, without any id (the backend
// assigns one).
type InsertPayload struct {
	Row json.RawMessage `json:"row"`
}

// UpdatePayload carries the target primary key and the patch fields.
type UpdatePayload struct {
	PK    int64           `json:"pk"`
	Patch json.RawMessage `json:"patch"`
}

// DeletePayload carries the target primary key.
type DeletePayload struct {
	PK int64 `json:"pk"`
}

// PenagihanItemInput is one billing line item as entered by the user.
type PenagihanItemInput struct {
	ProdukID int64  `json:"produk_id"`
	Jumlah   int    `json:"jumlah"`
	Harga    int64  `json:"harga"`
	Status   string `json:"status"` // terjual or kembali
}

// PotonganInput is an optional discount on a billing record.
type PotonganInput struct {
	Jumlah     int64  `json:"jumlah"`
	Keterangan string `json:"keterangan"`
}

// PengirimanItemInput is one shipment line item.
type PengirimanItemInput struct {
	ProdukID int64 `json:"produk_id"`
	Jumlah   int   `json:"jumlah"`
	Harga    int64 `json:"harga"`
}

// PengirimanInput describes a shipment to create: header plus items.
type PengirimanInput struct {
	TokoID     int64                 `json:"toko_id"`
	Tanggal    string                `json:"tanggal"`
	Keterangan string                `json:"keterangan"`
	Items      []PengirimanItemInput `json:"items"`
}

// PenagihanCreatePayload is the composite billing-create operation:
// header, line items, optional discount, optional auto-restock shipment
// (mirroring items marked kembali) and optional extra manual shipment,
// all applied as one user action.
type PenagihanCreatePayload struct {
	TokoID           int64                `json:"toko_id"`
	MetodePembayaran string               `json:"metode_pembayaran"`
	Tanggal          string               `json:"tanggal"`
	Total            int64                `json:"total"`
	Items            []PenagihanItemInput `json:"items"`
	Potongan         *PotonganInput       `json:"potongan,omitempty"`
	AutoRestock      bool                 `json:"auto_restock"`
	ExtraPengiriman  *PengirimanInput     `json:"extra_pengiriman,omitempty"`
}

// PenagihanUpdatePayload replaces a billing record: the header is
// patched, then children are replaced wholesale (delete-all-then-insert).
type PenagihanUpdatePayload struct {
	PK               int64                `json:"pk"`
	TokoID           int64                `json:"toko_id"`
	MetodePembayaran string               `json:"metode_pembayaran"`
	Tanggal          string               `json:"tanggal"`
	Total            int64                `json:"total"`
	Items            []PenagihanItemInput `json:"items"`
	Potongan         *PotonganInput       `json:"potongan,omitempty"`
}

// PenagihanDeletePayload deletes a billing record and its children.
type PenagihanDeletePayload struct {
	PK int64 `json:"pk"`
}

// PengirimanCreatePayload is the composite shipment-create operation.
type PengirimanCreatePayload struct {
	PengirimanInput
}

// PengirimanUpdatePayload patches a shipment header and replaces its
// line items.
type PengirimanUpdatePayload struct {
	PK int64 `json:"pk"`
	PengirimanInput
}

// PengirimanDeletePayload deletes a shipment and its line items.
type PengirimanDeletePayload struct {
	PK int64 `json:"pk"`
}

// EncodePayload marshals a payload value for storage on an entry.
func EncodePayload(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode outbox payload", err)
	}
	return data, nil
}

// DecodePayload decodes an entry's payload into the concrete type for
// its operation tag. Unknown tags are an error, never silently skipped.
func (e *Entry) DecodePayload() (interface{}, error) {
	var v interface{}
	switch e.Operation {
	case OpInsert:
		v = &InsertPayload{}
	case OpUpdate:
		v = &UpdatePayload{}
	case OpDelete:
		v = &DeletePayload{}
	case OpPenagihanCreate:
		v = &PenagihanCreatePayload{}
	case OpPenagihanUpdate:
		v = &PenagihanUpdatePayload{}
	case OpPenagihanDelete:
		v = &PenagihanDeletePayload{}
	case OpPengirimanCreate:
		v = &PengirimanCreatePayload{}
	case OpPengirimanUpdate:
		v = &PengirimanUpdatePayload{}
	case OpPengirimanDelete:
		v = &PengirimanDeletePayload{}
	default:
		return nil, apperrors.Newf(apperrors.ErrUnknownPayload, "unknown operation %q", e.Operation)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUnknownPayload, "decode payload for "+string(e.Operation), err)
	}
	return v, nil
}
