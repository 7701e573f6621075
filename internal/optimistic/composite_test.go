package optimistic

import (
	"testing"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/models"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/store"
)

// TestCreatePenagihanLocalApply verifies the composite billing create
// writes header, items and potongan in one shot with exactly one outbox
// entry, and that the stored total is derived from the line items.
func TestCreatePenagihanLocalApply(t *testing.T) {
	w, s, q := testWriter(t)

	header, err := w.CreatePenagihan(outbox.PenagihanCreatePayload{
		TokoID:           12,
		MetodePembayaran: "cash",
		Tanggal:          "2026-08-28",
		Items: []outbox.PenagihanItemInput{
			{ProdukID: 1, Jumlah: 3, Harga: 50000, Status: models.ItemTerjual},
			{ProdukID: 2, Jumlah: 2, Harga: 20000, Status: models.ItemKembali},
		},
		Potongan:    &outbox.PotonganInput{Jumlah: 5000, Keterangan: "langganan"},
		AutoRestock: true,
	})
	if err != nil {
		t.Fatalf("CreatePenagihan failed: %v", err)
	}

	if !IsPlaceholder(header.ID) {
		t.Errorf("Expected placeholder header id, got %d", header.ID)
	}
	if header.Total != 3*50000+2*20000 {
		t.Errorf("Total not derived from items: %d", header.Total)
	}

	items, err := s.Query(store.TablePenagihanProduk, store.QueryOptions{Index: "penagihan_id", Value: header.ID})
	if err != nil {
		t.Fatalf("Query items failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 line items, got %d", len(items))
	}
	for _, item := range items {
		if !item.Pending || !IsPlaceholder(item.ID) {
			t.Errorf("Child not provisional: %+v", item)
		}
	}

	pots, err := s.Query(store.TablePotongan, store.QueryOptions{Index: "penagihan_id", Value: header.ID})
	if err != nil {
		t.Fatalf("Query potongan failed: %v", err)
	}
	if len(pots) != 1 {
		t.Fatalf("Expected 1 potongan, got %d", len(pots))
	}

	// No local shipment rows: the auto-restock shipment is created on
	// the backend and arrives via the change feed.
	shipments, _ := s.Query(store.TablePengiriman, store.QueryOptions{IncludeDeleted: true})
	if len(shipments) != 0 {
		t.Errorf("Auto-restock must not write local shipment rows: %v", shipments)
	}

	entries, err := q.PeekPending(10)
	if err != nil {
		t.Fatalf("PeekPending failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Composite create must enqueue exactly one entry, got %d", len(entries))
	}
	if entries[0].Operation != outbox.OpPenagihanCreate || entries[0].LocalPlaceholderID != header.ID {
		t.Errorf("Unexpected entry: %+v", entries[0])
	}
}

func TestCreatePenagihanRequiresItems(t *testing.T) {
	w, _, _ := testWriter(t)

	_, err := w.CreatePenagihan(outbox.PenagihanCreatePayload{TokoID: 1})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

// TestUpdatePenagihanReplacesChildren verifies the local apply mirrors
// the backend sequence: header patched, children replaced wholesale.
func TestUpdatePenagihanReplacesChildren(t *testing.T) {
	w, s, _ := testWriter(t)

	s.Put(store.TablePenagihan, store.Record{ID: 100, Data: []byte(`{"id":100,"toko_id":12,"total":50000,"metode_pembayaran":"cash","tanggal":"2026-08-01"}`)})
	s.Put(store.TablePenagihanProduk, store.Record{ID: 500, Data: []byte(`{"id":500,"penagihan_id":100,"produk_id":1,"jumlah":1,"harga":50000,"status":"terjual"}`)})

	err := w.UpdatePenagihan(100, outbox.PenagihanUpdatePayload{
		TokoID:           12,
		MetodePembayaran: "transfer",
		Tanggal:          "2026-08-01",
		Items: []outbox.PenagihanItemInput{
			{ProdukID: 2, Jumlah: 4, Harga: 10000, Status: models.ItemTerjual},
		},
	})
	if err != nil {
		t.Fatalf("UpdatePenagihan failed: %v", err)
	}

	header, err := s.Get(store.TablePenagihan, 100)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if header.Field("metode_pembayaran") != "transfer" {
		t.Error("Header patch not applied")
	}
	if header.Field("total") != float64(40000) {
		t.Errorf("Total not recomputed: %v", header.Field("total"))
	}

	items, err := s.Query(store.TablePenagihanProduk, store.QueryOptions{Index: "penagihan_id", Value: 100})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected children replaced, got %d rows", len(items))
	}
	if items[0].ID == 500 {
		t.Error("Old child row must be gone")
	}
	if items[0].Field("produk_id") != float64(2) {
		t.Errorf("New child wrong: %s", items[0].Data)
	}
}

// TestDeletePenagihanFlagsChildren verifies header and children are
// hidden together while the delete intent is in flight.
func TestDeletePenagihanFlagsChildren(t *testing.T) {
	w, s, q := testWriter(t)

	s.Put(store.TablePenagihan, store.Record{ID: 100, Data: []byte(`{"id":100,"toko_id":12,"total":50000,"metode_pembayaran":"cash","tanggal":"2026-08-01"}`)})
	s.Put(store.TablePenagihanProduk, store.Record{ID: 500, Data: []byte(`{"id":500,"penagihan_id":100,"produk_id":1,"jumlah":1,"harga":50000,"status":"terjual"}`)})
	s.Put(store.TablePotongan, store.Record{ID: 700, Data: []byte(`{"id":700,"penagihan_id":100,"jumlah":5000,"keterangan":""}`)})

	if err := w.DeletePenagihan(100); err != nil {
		t.Fatalf("DeletePenagihan failed: %v", err)
	}

	for _, table := range []string{store.TablePenagihan, store.TablePenagihanProduk, store.TablePotongan} {
		rows, err := s.Query(table, store.QueryOptions{})
		if err != nil {
			t.Fatalf("Query %s failed: %v", table, err)
		}
		if len(rows) != 0 {
			t.Errorf("%s rows still visible after delete: %v", table, rows)
		}
	}

	entries, _ := q.PeekPending(10)
	if len(entries) != 1 || entries[0].Operation != outbox.OpPenagihanDelete {
		t.Errorf("Expected one composite delete intent, got %+v", entries)
	}
}

func TestCreatePengirimanLocalApply(t *testing.T) {
	w, s, q := testWriter(t)

	header, err := w.CreatePengiriman(outbox.PengirimanCreatePayload{
		PengirimanInput: outbox.PengirimanInput{
			TokoID:  7,
			Tanggal: "2026-08-28",
			Items: []outbox.PengirimanItemInput{
				{ProdukID: 1, Jumlah: 10, Harga: 50000},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreatePengiriman failed: %v", err)
	}
	if !IsPlaceholder(header.ID) {
		t.Errorf("Expected placeholder id, got %d", header.ID)
	}

	items, err := s.Query(store.TablePengirimanProduk, store.QueryOptions{Index: "pengiriman_id", Value: header.ID})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 shipment item, got %d", len(items))
	}

	entries, _ := q.PeekPending(10)
	if len(entries) != 1 || entries[0].Operation != outbox.OpPengirimanCreate {
		t.Errorf("Expected one pengiriman-create intent, got %+v", entries)
	}
}
