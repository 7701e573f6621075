package store

// Table and view names mirrored from the backend.
const (
	TableSales            = "sales"
	TableProduk           = "produk"
	TableToko             = "toko"
	TablePengiriman       = "pengiriman"
	TablePengirimanProduk = "pengiriman_produk"
	TablePenagihan        = "penagihan"
	TablePenagihanProduk  = "penagihan_produk"
	TablePotongan         = "potongan"
	TableSetoran          = "setoran"

	ViewPenagihan  = "v_penagihan"
	ViewPengiriman = "v_pengiriman"
	ViewSetoran    = "v_setoran"
)

// TableSchema declares one mirrored base table.
//
// SoftDeleteField names the boolean JSON field that an optimistic delete
// flips to false instead of removing the row. Tables without one have
// hard-delete semantics: the local row is flagged deleted and hidden
// until the remote delete is confirmed.
//
// MatchFields drive provisional-record reconciliation: an incoming
// confirmed insert matches a provisional row when all MatchFields are
// equal. Used only when the change-feed event carries no idempotency key.
//
// ChildRefs maps child table name to the child field referencing this
// table's primary key. When a provisional parent is swapped for its
// confirmed identity, provisional children are re-pointed at the
// confirmed id so their own reconciliation can still match.
type TableSchema struct {
	Name            string
	PKField         string
	Indexes         []string
	SoftDeleteField string
	MatchFields     []string
	ChildRefs       map[string]string
}

// ViewSchema declares one mirrored backend view and the base tables it
// is computed from. A change to any dependency schedules a re-fetch.
type ViewSchema struct {
	Name       string
	DependsOn  []string
	FetchLimit int
}

// Tables is the registry of mirrored base tables, in hydration order.
var Tables = []TableSchema{
	{
		Name:            TableSales,
		PKField:         "id",
		Indexes:         []string{"nama"},
		SoftDeleteField: "status_aktif",
		MatchFields:     []string{"nama"},
	},
	{
		Name:            TableProduk,
		PKField:         "id",
		Indexes:         []string{"nama"},
		SoftDeleteField: "status_produk",
		MatchFields:     []string{"nama"},
	},
	{
		Name:            TableToko,
		PKField:         "id",
		Indexes:         []string{"nama", "kecamatan", "sales_id"},
		SoftDeleteField: "status_toko",
		MatchFields:     []string{"nama", "alamat"},
	},
	{
		Name:        TablePengiriman,
		PKField:     "id",
		Indexes:     []string{"toko_id", "tanggal"},
		MatchFields: []string{"toko_id", "tanggal"},
		ChildRefs:   map[string]string{TablePengirimanProduk: "pengiriman_id"},
	},
	{
		Name:        TablePengirimanProduk,
		PKField:     "id",
		Indexes:     []string{"pengiriman_id", "produk_id"},
		MatchFields: []string{"pengiriman_id", "produk_id", "jumlah"},
	},
	{
		Name:        TablePenagihan,
		PKField:     "id",
		Indexes:     []string{"toko_id", "tanggal"},
		MatchFields: []string{"toko_id", "total", "metode_pembayaran"},
		ChildRefs: map[string]string{
			TablePenagihanProduk: "penagihan_id",
			TablePotongan:        "penagihan_id",
		},
	},
	{
		Name:        TablePenagihanProduk,
		PKField:     "id",
		Indexes:     []string{"penagihan_id", "produk_id"},
		MatchFields: []string{"penagihan_id", "produk_id", "jumlah"},
	},
	{
		Name:        TablePotongan,
		PKField:     "id",
		Indexes:     []string{"penagihan_id"},
		MatchFields: []string{"penagihan_id", "jumlah"},
	},
	{
		Name:        TableSetoran,
		PKField:     "id",
		Indexes:     []string{"tanggal"},
		MatchFields: []string{"tanggal", "total_setoran"},
	},
}

// Views is the registry of mirrored backend views.
var Views = []ViewSchema{
	{
		Name:       ViewPenagihan,
		DependsOn:  []string{TablePenagihan, TablePenagihanProduk, TablePotongan, TableToko, TableSales},
		FetchLimit: 2000,
	},
	{
		Name:       ViewPengiriman,
		DependsOn:  []string{TablePengiriman, TablePengirimanProduk, TableToko, TableProduk},
		FetchLimit: 2000,
	},
	{
		Name:       ViewSetoran,
		DependsOn:  []string{TableSetoran, TablePenagihan},
		FetchLimit: 1000,
	},
}

// TableByName looks up a base-table schema.
func TableByName(name string) (TableSchema, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// ViewByName looks up a view schema.
func ViewByName(name string) (ViewSchema, bool) {
	for _, v := range Views {
		if v.Name == name {
			return v, true
		}
	}
	return ViewSchema{}, false
}

// ViewsDependingOn returns the names of views that declare a dependency
// on the given base table.
func ViewsDependingOn(table string) []string {
	var out []string
	for _, v := range Views {
		for _, dep := range v.DependsOn {
			if dep == table {
				out = append(out, v.Name)
				break
			}
		}
	}
	return out
}

// knownTable reports whether name is a mirrored base table or view.
func knownTable(name string) bool {
	if _, ok := TableByName(name); ok {
		return true
	}
	_, ok := ViewByName(name)
	return ok
}

// hasIndex reports whether the table or view declares the given
// secondary index field.
func hasIndex(table, field string) bool {
	t, ok := TableByName(table)
	if !ok {
		// Views are queried by declared base-table conventions; allow
		// any field for view mirrors since they are small and replaced
		// wholesale.
		return true
	}
	if field == t.PKField {
		return true
	}
	for _, idx := range t.Indexes {
		if idx == field {
			return true
		}
	}
	return false
}
