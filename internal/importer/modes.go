package importer

// modes.go is the business-mode registry. A mode bundles everything that
// varies per kind of shop: the alias lists used to resolve canonical fields
// from arbitrary headers, the header families that must exist, which pricing
// formula applies, and the metadata keys the mode is allowed to carry.
// Modes register at init time; callers may register additional ones before
// the server starts serving.

import (
	"fmt"
	"sort"
	"sync"
)

// Canonical field names used across the pipeline.
const (
	FieldNombre           = "nombre"
	FieldTipo             = "tipo"
	FieldPrecioCompra     = "precio_compra"
	FieldPrecioVenta      = "precio_venta"
	FieldStock            = "stock"
	FieldCodigo           = "codigo"
	FieldImagen           = "imagen"
	FieldFechaVencimiento = "fecha_vencimiento"
	FieldPeso             = "peso"
	FieldMaterial         = "material"
	FieldPureza           = "pureza"
	FieldVarianteNombre   = "variante_nombre"
	FieldVarianteCodigo   = "variante_codigo"
	FieldVarianteStock    = "variante_stock"
)

// ModeDefinition describes one business mode.
type ModeDefinition struct {
	Name  string
	Label string

	// Aliases maps each canonical field to the ordered header aliases that
	// resolve it. Order is the tie-break: earlier aliases win.
	Aliases map[string][]string

	// RequiredFamilies are the header families that must be present for a
	// file to be structurally importable in this mode.
	RequiredFamilies []Family

	// FormulaPricing derives precio_venta from the margin-over-reference
	// formula instead of requiring it as a column.
	FormulaPricing bool

	// WeightPriced marks modes where purchase cost is per weight unit, which
	// changes the cost side of the sale-price floor check.
	WeightPriced bool

	// MetadataKeys is the allow-list of extra canonical fields captured into
	// the record's metadata bag.
	MetadataKeys []string
}

// AliasesFor returns the alias list for a canonical field, falling back to
// the field name itself so unlisted fields still resolve by exact match.
func (m ModeDefinition) AliasesFor(field string) []string {
	if aliases, ok := m.Aliases[field]; ok {
		return aliases
	}
	return []string{field}
}

var (
	modeRegistry = make(map[string]ModeDefinition)
	modeMu       sync.RWMutex
)

// RegisterMode adds a mode definition to the registry.
// Panics if the name is already taken.
func RegisterMode(def ModeDefinition) {
	modeMu.Lock()
	defer modeMu.Unlock()

	if _, exists := modeRegistry[def.Name]; exists {
		panic(fmt.Sprintf("mode already registered: %s", def.Name))
	}
	modeRegistry[def.Name] = def
}

// GetMode returns a mode definition by name.
func GetMode(name string) (ModeDefinition, bool) {
	modeMu.RLock()
	defer modeMu.RUnlock()

	def, ok := modeRegistry[name]
	return def, ok
}

// Modes returns all registered mode names, sorted.
func Modes() []string {
	modeMu.RLock()
	defer modeMu.RUnlock()

	names := make([]string, 0, len(modeRegistry))
	for name := range modeRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// baseAliases are the alias lists shared by every built-in mode.
func baseAliases() map[string][]string {
	return map[string][]string{
		FieldNombre:           {"nombre", "producto", "nombre_producto", "descripcion_producto", "name"},
		FieldTipo:             {"tipo", "tipo_producto", "categoria_tipo", "type"},
		FieldPrecioCompra:     {"precio_compra", "precio_de_compra", "costo", "costo_unitario", "purchase_price"},
		FieldPrecioVenta:      {"precio_venta", "precio_de_venta", "precio", "precio_publico", "sale_price", "price"},
		FieldStock:            {"stock", "cantidad", "existencias", "inventario", "quantity"},
		FieldCodigo:           {"codigo", "codigo_producto", "sku", "codigo_barras", "code"},
		FieldImagen:           {"imagen", "foto", "image"},
		FieldFechaVencimiento: {"fecha_vencimiento", "vencimiento", "fecha_de_vencimiento", "expiry"},
		FieldVarianteNombre:   {"variante_nombre", "variante", "nombre_variante"},
		FieldVarianteCodigo:   {"variante_codigo", "codigo_variante"},
		FieldVarianteStock:    {"variante_stock", "stock_variante"},
	}
}

func init() {
	retail := ModeDefinition{
		Name:    "retail",
		Label:   "Comercio general",
		Aliases: baseAliases(),
		RequiredFamilies: []Family{
			{Name: FieldNombre, Tokens: []string{"nombre"}},
			{Name: FieldTipo, Tokens: []string{"tipo"}},
			{Name: FieldPrecioCompra, Tokens: []string{"precio_compra"}},
			{Name: FieldPrecioVenta, Tokens: []string{"precio_venta"}},
			{Name: FieldStock, Tokens: []string{"stock"}},
		},
		MetadataKeys: []string{"categoria", "marca", "proveedor", "descripcion"},
	}
	RegisterMode(retail)

	joyeriaAliases := baseAliases()
	joyeriaAliases[FieldPeso] = []string{"peso", "peso_gramos", "gramos", "weight"}
	joyeriaAliases[FieldMaterial] = []string{"material", "clasificacion", "tipo_oro"}
	joyeriaAliases[FieldPureza] = []string{"pureza", "kilataje", "quilates", "ley"}
	RegisterMode(ModeDefinition{
		Name:    "joyeria",
		Label:   "Joyeria (precio por formula)",
		Aliases: joyeriaAliases,
		RequiredFamilies: []Family{
			{Name: FieldNombre, Tokens: []string{"nombre"}},
			{Name: FieldTipo, Tokens: []string{"tipo"}},
			{Name: FieldPrecioCompra, Tokens: []string{"precio_compra"}},
			{Name: "precio_venta|peso", Tokens: []string{"precio_venta", "peso"}},
			{Name: FieldStock, Tokens: []string{"stock"}},
		},
		FormulaPricing: true,
		WeightPriced:   true,
		MetadataKeys:   []string{"material", "pureza", "proveedor", "descripcion"},
	})

	comida := ModeDefinition{
		Name:    "comida",
		Label:   "Alimentos",
		Aliases: baseAliases(),
		RequiredFamilies: []Family{
			{Name: FieldNombre, Tokens: []string{"nombre"}},
			{Name: FieldTipo, Tokens: []string{"tipo"}},
			{Name: FieldPrecioCompra, Tokens: []string{"precio_compra"}},
			{Name: FieldPrecioVenta, Tokens: []string{"precio_venta"}},
			{Name: FieldStock, Tokens: []string{"stock"}},
		},
		MetadataKeys: []string{"categoria", "proveedor", "lote", "descripcion"},
	}
	RegisterMode(comida)
}
