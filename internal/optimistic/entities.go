package optimistic

import (
	"time"

	"github.com/dadinugroho/robshop-core/internal/models"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// Per-entity entry points. Inserts return the provisional record with
// its placeholder id so the UI can reference it immediately; the id is
// replaced by the confirmed one during reconciliation.

// InsertSales creates a sales rep optimistically.
func (w *Writer) InsertSales(s models.Sales) (*models.Sales, error) {
	now := time.Now().Unix()
	s.ID = PlaceholderID()
	s.StatusAktif = true
	s.CreatedAt, s.UpdatedAt = now, now
	if _, err := w.insertRecord(store.TableSales, s.ID, s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSales patches a sales rep optimistically.
func (w *Writer) UpdateSales(id int64, patch map[string]interface{}) error {
	return w.updateRecord(store.TableSales, id, patch)
}

// DeleteSales deactivates a sales rep (soft delete via status_aktif).
func (w *Writer) DeleteSales(id int64) error {
	return w.deleteRecord(store.TableSales, id)
}

// InsertProduk creates a product optimistically.
func (w *Writer) InsertProduk(p models.Produk) (*models.Produk, error) {
	now := time.Now().Unix()
	p.ID = PlaceholderID()
	p.StatusProduk = true
	p.CreatedAt, p.UpdatedAt = now, now
	if _, err := w.insertRecord(store.TableProduk, p.ID, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProduk patches a product optimistically.
func (w *Writer) UpdateProduk(id int64, patch map[string]interface{}) error {
	return w.updateRecord(store.TableProduk, id, patch)
}

// DeleteProduk deactivates a product (soft delete via status_produk).
// The record stays retrievable by primary key but drops out of active
// filtered reads.
func (w *Writer) DeleteProduk(id int64) error {
	return w.deleteRecord(store.TableProduk, id)
}

// InsertToko creates a store optimistically.
func (w *Writer) InsertToko(t models.Toko) (*models.Toko, error) {
	now := time.Now().Unix()
	t.ID = PlaceholderID()
	t.StatusToko = true
	t.CreatedAt, t.UpdatedAt = now, now
	if _, err := w.insertRecord(store.TableToko, t.ID, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateToko patches a store optimistically.
func (w *Writer) UpdateToko(id int64, patch map[string]interface{}) error {
	return w.updateRecord(store.TableToko, id, patch)
}

// DeleteToko deactivates a store (soft delete via status_toko).
func (w *Writer) DeleteToko(id int64) error {
	return w.deleteRecord(store.TableToko, id)
}

// InsertSetoran creates a deposit optimistically.
func (w *Writer) InsertSetoran(s models.Setoran) (*models.Setoran, error) {
	now := time.Now().Unix()
	s.ID = PlaceholderID()
	s.CreatedAt, s.UpdatedAt = now, now
	if _, err := w.insertRecord(store.TableSetoran, s.ID, s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSetoran patches a deposit optimistically.
func (w *Writer) UpdateSetoran(id int64, patch map[string]interface{}) error {
	return w.updateRecord(store.TableSetoran, id, patch)
}

// DeleteSetoran deletes a deposit. Deposits have hard-delete semantics:
// the record is flagged deleted and excluded from all standard reads
// until the remote delete is confirmed.
func (w *Writer) DeleteSetoran(id int64) error {
	return w.deleteRecord(store.TableSetoran, id)
}
