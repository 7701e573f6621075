package dispatch

import (
	"context"

	"github.com/dadinugroho/robshop-core/internal/models"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// Composite executors. Steps run in a fixed order; the first failing
// step aborts the rest and fails the whole entry. Rows already written
// by earlier steps stay on the backend (at-least-once semantics).

type row map[string]interface{}

// penagihanCreate: header, line items, optional potongan, optional
// auto-restock shipment mirroring items marked kembali, optional extra
// manual shipment.
func (d *Dispatcher) penagihanCreate(ctx context.Context, e *outbox.Entry, p *outbox.PenagihanCreatePayload) error {
	confirmed, err := d.client.Insert(ctx, store.TablePenagihan, row{
		"toko_id":           p.TokoID,
		"total":             p.Total,
		"metode_pembayaran": p.MetodePembayaran,
		"tanggal":           p.Tanggal,
	}, e.IdemKey)
	if err != nil {
		return err
	}
	headerID, err := pkFromRow(confirmed, "id")
	if err != nil {
		return err
	}

	items := make([]row, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, row{
			"penagihan_id": headerID,
			"produk_id":    item.ProdukID,
			"jumlah":       item.Jumlah,
			"harga":        item.Harga,
			"status":       item.Status,
		})
	}
	if _, err := d.client.Insert(ctx, store.TablePenagihanProduk, items, ""); err != nil {
		return err
	}

	if p.Potongan != nil {
		if _, err := d.client.Insert(ctx, store.TablePotongan, row{
			"penagihan_id": headerID,
			"jumlah":       p.Potongan.Jumlah,
			"keterangan":   p.Potongan.Keterangan,
		}, ""); err != nil {
			return err
		}
	}

	if p.AutoRestock {
		var restock []outbox.PengirimanItemInput
		for _, item := range p.Items {
			if item.Status == models.ItemKembali {
				restock = append(restock, outbox.PengirimanItemInput{
					ProdukID: item.ProdukID,
					Jumlah:   item.Jumlah,
					Harga:    item.Harga,
				})
			}
		}
		if len(restock) > 0 {
			if err := d.insertPengiriman(ctx, outbox.PengirimanInput{
				TokoID:     p.TokoID,
				Tanggal:    p.Tanggal,
				Keterangan: "Restok otomatis dari penagihan",
				Items:      restock,
			}, ""); err != nil {
				return err
			}
		}
	}

	if p.ExtraPengiriman != nil {
		if err := d.insertPengiriman(ctx, *p.ExtraPengiriman, ""); err != nil {
			return err
		}
	}

	return d.rec.Reconcile(store.TablePenagihan, confirmed, e.LocalPlaceholderID)
}

// penagihanUpdate: patch the header, then replace children wholesale.
func (d *Dispatcher) penagihanUpdate(ctx context.Context, e *outbox.Entry, p *outbox.PenagihanUpdatePayload) error {
	if err := requirePK(e, p.PK); err != nil {
		return err
	}

	if err := d.client.Update(ctx, store.TablePenagihan, e.PKField, p.PK, row{
		"toko_id":           p.TokoID,
		"total":             p.Total,
		"metode_pembayaran": p.MetodePembayaran,
		"tanggal":           p.Tanggal,
	}); err != nil {
		return err
	}

	if err := d.client.Delete(ctx, store.TablePenagihanProduk, "penagihan_id", p.PK); err != nil {
		return err
	}
	if err := d.client.Delete(ctx, store.TablePotongan, "penagihan_id", p.PK); err != nil {
		return err
	}

	items := make([]row, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, row{
			"penagihan_id": p.PK,
			"produk_id":    item.ProdukID,
			"jumlah":       item.Jumlah,
			"harga":        item.Harga,
			"status":       item.Status,
		})
	}
	if len(items) > 0 {
		if _, err := d.client.Insert(ctx, store.TablePenagihanProduk, items, ""); err != nil {
			return err
		}
	}
	if p.Potongan != nil {
		if _, err := d.client.Insert(ctx, store.TablePotongan, row{
			"penagihan_id": p.PK,
			"jumlah":       p.Potongan.Jumlah,
			"keterangan":   p.Potongan.Keterangan,
		}, ""); err != nil {
			return err
		}
	}
	return nil
}

// penagihanDelete: children before parent.
func (d *Dispatcher) penagihanDelete(ctx context.Context, e *outbox.Entry, p *outbox.PenagihanDeletePayload) error {
	if err := requirePK(e, p.PK); err != nil {
		return err
	}
	if err := d.client.Delete(ctx, store.TablePotongan, "penagihan_id", p.PK); err != nil {
		return err
	}
	if err := d.client.Delete(ctx, store.TablePenagihanProduk, "penagihan_id", p.PK); err != nil {
		return err
	}
	return d.client.Delete(ctx, store.TablePenagihan, e.PKField, p.PK)
}

func (d *Dispatcher) pengirimanCreate(ctx context.Context, e *outbox.Entry, p *outbox.PengirimanCreatePayload) error {
	confirmed, err := d.insertPengirimanRows(ctx, p.PengirimanInput, e.IdemKey)
	if err != nil {
		return err
	}
	return d.rec.Reconcile(store.TablePengiriman, confirmed, e.LocalPlaceholderID)
}

// pengirimanUpdate: patch the header, then replace line items.
func (d *Dispatcher) pengirimanUpdate(ctx context.Context, e *outbox.Entry, p *outbox.PengirimanUpdatePayload) error {
	if err := requirePK(e, p.PK); err != nil {
		return err
	}

	if err := d.client.Update(ctx, store.TablePengiriman, e.PKField, p.PK, row{
		"toko_id":    p.TokoID,
		"tanggal":    p.Tanggal,
		"keterangan": p.Keterangan,
	}); err != nil {
		return err
	}
	if err := d.client.Delete(ctx, store.TablePengirimanProduk, "pengiriman_id", p.PK); err != nil {
		return err
	}
	return d.insertPengirimanItems(ctx, p.PK, p.Items)
}

// pengirimanDelete: line items before header.
func (d *Dispatcher) pengirimanDelete(ctx context.Context, e *outbox.Entry, p *outbox.PengirimanDeletePayload) error {
	if err := requirePK(e, p.PK); err != nil {
		return err
	}
	if err := d.client.Delete(ctx, store.TablePengirimanProduk, "pengiriman_id", p.PK); err != nil {
		return err
	}
	return d.client.Delete(ctx, store.TablePengiriman, e.PKField, p.PK)
}

// insertPengiriman writes a shipment header plus items and discards the
// confirmed header (used for backend-side restock shipments that reach
// the local store via the change feed).
func (d *Dispatcher) insertPengiriman(ctx context.Context, in outbox.PengirimanInput, idemKey string) error {
	_, err := d.insertPengirimanRows(ctx, in, idemKey)
	return err
}

func (d *Dispatcher) insertPengirimanRows(ctx context.Context, in outbox.PengirimanInput, idemKey string) ([]byte, error) {
	confirmed, err := d.client.Insert(ctx, store.TablePengiriman, row{
		"toko_id":    in.TokoID,
		"tanggal":    in.Tanggal,
		"keterangan": in.Keterangan,
	}, idemKey)
	if err != nil {
		return nil, err
	}
	headerID, err := pkFromRow(confirmed, "id")
	if err != nil {
		return nil, err
	}
	if err := d.insertPengirimanItems(ctx, headerID, in.Items); err != nil {
		return nil, err
	}
	return confirmed, nil
}

func (d *Dispatcher) insertPengirimanItems(ctx context.Context, pengirimanID int64, items []outbox.PengirimanItemInput) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]row, 0, len(items))
	for _, item := range items {
		rows = append(rows, row{
			"pengiriman_id": pengirimanID,
			"produk_id":     item.ProdukID,
			"jumlah":        item.Jumlah,
			"harga":         item.Harga,
		})
	}
	_, err := d.client.Insert(ctx, store.TablePengirimanProduk, rows, "")
	return err
}
