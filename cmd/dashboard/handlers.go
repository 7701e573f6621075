// Mutation endpoints for the dashboard UI. Every write applies
// optimistically and schedules an immediate outbox drain.
package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/models"
	"github.com/dadinugroho/robshop-core/internal/optimistic"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/syncer"
)

type mutationAPI struct {
	w       *optimistic.Writer
	session *syncer.SyncSession
}

func (m *mutationAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sales", m.insertSales)
	mux.HandleFunc("PATCH /api/sales/{id}", m.update(m.w.UpdateSales))
	mux.HandleFunc("DELETE /api/sales/{id}", m.delete(m.w.DeleteSales))

	mux.HandleFunc("POST /api/produk", m.insertProduk)
	mux.HandleFunc("PATCH /api/produk/{id}", m.update(m.w.UpdateProduk))
	mux.HandleFunc("DELETE /api/produk/{id}", m.delete(m.w.DeleteProduk))

	mux.HandleFunc("POST /api/toko", m.insertToko)
	mux.HandleFunc("PATCH /api/toko/{id}", m.update(m.w.UpdateToko))
	mux.HandleFunc("DELETE /api/toko/{id}", m.delete(m.w.DeleteToko))

	mux.HandleFunc("POST /api/setoran", m.insertSetoran)
	mux.HandleFunc("PATCH /api/setoran/{id}", m.update(m.w.UpdateSetoran))
	mux.HandleFunc("DELETE /api/setoran/{id}", m.delete(m.w.DeleteSetoran))

	mux.HandleFunc("POST /api/penagihan", m.createPenagihan)
	mux.HandleFunc("PUT /api/penagihan/{id}", m.updatePenagihan)
	mux.HandleFunc("DELETE /api/penagihan/{id}", m.delete(m.w.DeletePenagihan))

	mux.HandleFunc("POST /api/pengiriman", m.createPengiriman)
	mux.HandleFunc("PUT /api/pengiriman/{id}", m.updatePengiriman)
	mux.HandleFunc("DELETE /api/pengiriman/{id}", m.delete(m.w.DeletePengiriman))
}

// done schedules a drain and writes the provisional result.
func (m *mutationAPI) done(w http.ResponseWriter, result interface{}) {
	m.session.RequestDrain()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

func (m *mutationAPI) insertSales(w http.ResponseWriter, r *http.Request) {
	var in models.Sales
	if !decodeBody(w, r, &in) {
		return
	}
	out, err := m.w.InsertSales(in)
	if err != nil {
		writeError(w, err)
		return
	}
	m.done(w, out)
}

func (m *mutationAPI) insertProduk(w http.ResponseWriter, r *http.Request) {
	var in models.Produk
	if !decodeBody(w, r, &in) {
		return
	}
	out, err := m.w.InsertProduk(in)
	if err != nil {
		writeError(w, err)
		return
	}
	m.done(w, out)
}

func (m *mutationAPI) insertToko(w http.ResponseWriter, r *http.Request) {
	var in models.Toko
	if !decodeBody(w, r, &in) {
		return
	}
	out, err := m.w.InsertToko(in)
	if err != nil {
		writeError(w, err)
		return
	}
	m.done(w, out)
}

func (m *mutationAPI) insertSetoran(w http.ResponseWriter, r *http.Request) {
	var in models.Setoran
	if !decodeBody(w, r, &in) {
		return
	}
	out, err := m.w.InsertSetoran(in)
	if err != nil {
		writeError(w, err)
		return
	}
	m.done(w, out)
}

func (m *mutationAPI) createPenagihan(w http.ResponseWriter, r *http.Request) {
	var in outbox.PenagihanCreatePayload
	if !decodeBody(w, r, &in) {
		return
	}
	out, err := m.w.CreatePenagihan(in)
	if err != nil {
		writeError(w, err)
		return
	}
	m.done(w, out)
}

func (m *mutationAPI) updatePenagihan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in outbox.PenagihanUpdatePayload
	if !decodeBody(w, r, &in) {
		return
	}
	if err := m.w.UpdatePenagihan(id, in); err != nil {
		writeError(w, err)
		return
	}
	m.done(w, map[string]int64{"id": id})
}

func (m *mutationAPI) createPengiriman(w http.ResponseWriter, r *http.Request) {
	var in outbox.PengirimanCreatePayload
	if !decodeBody(w, r, &in) {
		return
	}
	out, err := m.w.CreatePengiriman(in)
	if err != nil {
		writeError(w, err)
		return
	}
	m.done(w, out)
}

func (m *mutationAPI) updatePengiriman(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in outbox.PengirimanUpdatePayload
	if !decodeBody(w, r, &in) {
		return
	}
	if err := m.w.UpdatePengiriman(id, in); err != nil {
		writeError(w, err)
		return
	}
	m.done(w, map[string]int64{"id": id})
}

// update adapts a patch-style writer method to a handler.
func (m *mutationAPI) update(fn func(int64, map[string]interface{}) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var patch map[string]interface{}
		if !decodeBody(w, r, &patch) {
			return
		}
		if err := fn(id, patch); err != nil {
			writeError(w, err)
			return
		}
		m.done(w, map[string]int64{"id": id})
	}
}

// delete adapts a delete-style writer method to a handler.
func (m *mutationAPI) delete(fn func(int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := fn(id); err != nil {
			writeError(w, err)
			return
		}
		m.done(w, map[string]int64{"id": id})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps error codes to HTTP statuses. Enqueue and storage
// failures surface as errors here because the optimistic write did not
// stick; everything else already succeeded locally.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrValidation), apperrors.Is(err, apperrors.ErrInvalid):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrStorageFull):
		status = http.StatusInsufficientStorage
	}
	http.Error(w, err.Error(), status)
}
