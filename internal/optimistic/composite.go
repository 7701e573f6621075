package optimistic

import (
	"encoding/json"
	"time"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/models"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// Composite operations span several tables but are one user action and
// one outbox entry. The local store reflects the full result before any
// network round-trip; the auto-restock shipment is backend-side and
// appears locally via the change feed once confirmed.

// CreatePenagihan applies the composite billing-create: header, line
// items and optional potongan locally, one penagihan-create intent in
// the outbox. The header total is computed here from the line items.
func (w *Writer) CreatePenagihan(in outbox.PenagihanCreatePayload) (*models.Penagihan, error) {
	if len(in.Items) == 0 {
		return nil, apperrors.New(apperrors.ErrValidation, "penagihan needs at least one line item")
	}

	var total int64
	for _, item := range in.Items {
		total += int64(item.Jumlah) * item.Harga
	}
	in.Total = total

	now := time.Now().Unix()
	header := models.Penagihan{
		ID:               PlaceholderID(),
		TokoID:           in.TokoID,
		Total:            total,
		MetodePembayaran: in.MetodePembayaran,
		Tanggal:          in.Tanggal,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	txn, err := w.s.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	if err := putPending(txn, store.TablePenagihan, header.ID, header); err != nil {
		return nil, err
	}
	if err := w.putPenagihanChildren(txn, header.ID, in.Items, in.Potongan); err != nil {
		return nil, err
	}

	payload, err := outbox.EncodePayload(in)
	if err != nil {
		return nil, err
	}
	if err := w.q.Enqueue(txn, &outbox.Entry{
		Tabel:              store.TablePenagihan,
		Operation:          outbox.OpPenagihanCreate,
		Payload:            payload,
		PKField:            "id",
		LocalPlaceholderID: header.ID,
	}); err != nil {
		return nil, err
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return &header, nil
}

// UpdatePenagihan patches the header and replaces children locally,
// mirroring the dispatcher's update-parent-then-replace-children
// sequence against the backend.
func (w *Writer) UpdatePenagihan(pk int64, in outbox.PenagihanUpdatePayload) error {
	var total int64
	for _, item := range in.Items {
		total += int64(item.Jumlah) * item.Harga
	}
	in.PK = pk
	in.Total = total

	rec, err := w.s.Get(store.TablePenagihan, pk)
	if err != nil {
		return err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(rec.Data, &fields); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "decode penagihan", err)
	}
	fields["toko_id"] = in.TokoID
	fields["metode_pembayaran"] = in.MetodePembayaran
	fields["tanggal"] = in.Tanggal
	fields["total"] = total
	fields["updated_at"] = time.Now().Unix()
	data, err := json.Marshal(fields)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "encode penagihan", err)
	}
	rec.Data = data
	rec.Pending = true

	txn, err := w.s.Begin()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := txn.Put(store.TablePenagihan, *rec); err != nil {
		return err
	}
	if err := w.clearPenagihanChildren(txn, pk); err != nil {
		return err
	}
	if err := w.putPenagihanChildren(txn, pk, in.Items, in.Potongan); err != nil {
		return err
	}

	payload, err := outbox.EncodePayload(in)
	if err != nil {
		return err
	}
	if err := w.q.Enqueue(txn, &outbox.Entry{
		Tabel:     store.TablePenagihan,
		Operation: outbox.OpPenagihanUpdate,
		Payload:   payload,
		PKField:   "id",
	}); err != nil {
		return err
	}
	return txn.Commit()
}

// DeletePenagihan flags the billing record and its children deleted
// locally and enqueues the composite delete (children before parent on
// the backend).
func (w *Writer) DeletePenagihan(pk int64) error {
	rec, err := w.s.Get(store.TablePenagihan, pk)
	if err != nil {
		return err
	}
	rec.Deleted = true
	rec.Pending = true

	payload, err := outbox.EncodePayload(outbox.PenagihanDeletePayload{PK: pk})
	if err != nil {
		return err
	}

	txn, err := w.s.Begin()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := txn.Put(store.TablePenagihan, *rec); err != nil {
		return err
	}
	if err := w.flagChildrenDeleted(txn, store.TablePenagihanProduk, "penagihan_id", pk); err != nil {
		return err
	}
	if err := w.flagChildrenDeleted(txn, store.TablePotongan, "penagihan_id", pk); err != nil {
		return err
	}
	if err := w.q.Enqueue(txn, &outbox.Entry{
		Tabel:     store.TablePenagihan,
		Operation: outbox.OpPenagihanDelete,
		Payload:   payload,
		PKField:   "id",
	}); err != nil {
		return err
	}
	return txn.Commit()
}

// CreatePengiriman applies the composite shipment-create locally and
// enqueues one pengiriman-create intent.
func (w *Writer) CreatePengiriman(in outbox.PengirimanCreatePayload) (*models.Pengiriman, error) {
	if len(in.Items) == 0 {
		return nil, apperrors.New(apperrors.ErrValidation, "pengiriman needs at least one line item")
	}

	now := time.Now().Unix()
	header := models.Pengiriman{
		ID:         PlaceholderID(),
		TokoID:     in.TokoID,
		Tanggal:    in.Tanggal,
		Keterangan: in.Keterangan,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	txn, err := w.s.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	if err := putPending(txn, store.TablePengiriman, header.ID, header); err != nil {
		return nil, err
	}
	if err := putPengirimanItems(txn, header.ID, in.Items); err != nil {
		return nil, err
	}

	payload, err := outbox.EncodePayload(in)
	if err != nil {
		return nil, err
	}
	if err := w.q.Enqueue(txn, &outbox.Entry{
		Tabel:              store.TablePengiriman,
		Operation:          outbox.OpPengirimanCreate,
		Payload:            payload,
		PKField:            "id",
		LocalPlaceholderID: header.ID,
	}); err != nil {
		return nil, err
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return &header, nil
}

// UpdatePengiriman patches the shipment header and replaces its items.
func (w *Writer) UpdatePengiriman(pk int64, in outbox.PengirimanUpdatePayload) error {
	in.PK = pk

	rec, err := w.s.Get(store.TablePengiriman, pk)
	if err != nil {
		return err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(rec.Data, &fields); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "decode pengiriman", err)
	}
	fields["toko_id"] = in.TokoID
	fields["tanggal"] = in.Tanggal
	fields["keterangan"] = in.Keterangan
	fields["updated_at"] = time.Now().Unix()
	data, err := json.Marshal(fields)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "encode pengiriman", err)
	}
	rec.Data = data
	rec.Pending = true

	txn, err := w.s.Begin()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := txn.Put(store.TablePengiriman, *rec); err != nil {
		return err
	}
	existing, err := txn.Query(store.TablePengirimanProduk, store.QueryOptions{Index: "pengiriman_id", Value: pk})
	if err != nil {
		return err
	}
	for _, child := range existing {
		if err := txn.Delete(store.TablePengirimanProduk, child.ID); err != nil {
			return err
		}
	}
	if err := putPengirimanItems(txn, pk, in.Items); err != nil {
		return err
	}

	payload, err := outbox.EncodePayload(in)
	if err != nil {
		return err
	}
	if err := w.q.Enqueue(txn, &outbox.Entry{
		Tabel:     store.TablePengiriman,
		Operation: outbox.OpPengirimanUpdate,
		Payload:   payload,
		PKField:   "id",
	}); err != nil {
		return err
	}
	return txn.Commit()
}

// DeletePengiriman flags the shipment and its items deleted locally and
// enqueues the composite delete.
func (w *Writer) DeletePengiriman(pk int64) error {
	rec, err := w.s.Get(store.TablePengiriman, pk)
	if err != nil {
		return err
	}
	rec.Deleted = true
	rec.Pending = true

	payload, err := outbox.EncodePayload(outbox.PengirimanDeletePayload{PK: pk})
	if err != nil {
		return err
	}

	txn, err := w.s.Begin()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := txn.Put(store.TablePengiriman, *rec); err != nil {
		return err
	}
	if err := w.flagChildrenDeleted(txn, store.TablePengirimanProduk, "pengiriman_id", pk); err != nil {
		return err
	}
	if err := w.q.Enqueue(txn, &outbox.Entry{
		Tabel:     store.TablePengiriman,
		Operation: outbox.OpPengirimanDelete,
		Payload:   payload,
		PKField:   "id",
	}); err != nil {
		return err
	}
	return txn.Commit()
}

// putPending marshals model into a pending record and puts it.
func putPending(txn *store.Txn, table string, id int64, model interface{}) error {
	rec, err := store.NewRecord(id, model)
	if err != nil {
		return err
	}
	rec.Pending = true
	return txn.Put(table, rec)
}

func (w *Writer) putPenagihanChildren(txn *store.Txn, penagihanID int64, items []outbox.PenagihanItemInput, potongan *outbox.PotonganInput) error {
	for _, item := range items {
		child := models.PenagihanProduk{
			ID:          PlaceholderID(),
			PenagihanID: penagihanID,
			ProdukID:    item.ProdukID,
			Jumlah:      item.Jumlah,
			Harga:       item.Harga,
			Status:      item.Status,
		}
		if err := putPending(txn, store.TablePenagihanProduk, child.ID, child); err != nil {
			return err
		}
	}
	if potongan != nil {
		p := models.Potongan{
			ID:          PlaceholderID(),
			PenagihanID: penagihanID,
			Jumlah:      potongan.Jumlah,
			Keterangan:  potongan.Keterangan,
		}
		if err := putPending(txn, store.TablePotongan, p.ID, p); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) clearPenagihanChildren(txn *store.Txn, penagihanID int64) error {
	for _, table := range []string{store.TablePenagihanProduk, store.TablePotongan} {
		existing, err := txn.Query(table, store.QueryOptions{Index: "penagihan_id", Value: penagihanID})
		if err != nil {
			return err
		}
		for _, child := range existing {
			if err := txn.Delete(table, child.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) flagChildrenDeleted(txn *store.Txn, table, fkField string, parentID int64) error {
	children, err := txn.Query(table, store.QueryOptions{Index: fkField, Value: parentID})
	if err != nil {
		return err
	}
	for _, child := range children {
		child.Deleted = true
		child.Pending = true
		if err := txn.Put(table, child); err != nil {
			return err
		}
	}
	return nil
}

func putPengirimanItems(txn *store.Txn, pengirimanID int64, items []outbox.PengirimanItemInput) error {
	for _, item := range items {
		child := models.PengirimanProduk{
			ID:           PlaceholderID(),
			PengirimanID: pengirimanID,
			ProdukID:     item.ProdukID,
			Jumlah:       item.Jumlah,
			Harga:        item.Harga,
		}
		if err := putPending(txn, store.TablePengirimanProduk, child.ID, child); err != nil {
			return err
		}
	}
	return nil
}
