package testutil

import "github.com/roach88/sheetdb/internal/schema"

// DemoTables returns the demo shop schema in registration order:
// CATEGORY, PRODUCT (category_fk), ORDER and the ORDER_DETAIL junction
// between ORDER and PRODUCT with a quantity attribute.
func DemoTables() []schema.TableConfig {
	category := schema.TableConfig{
		Name: "CATEGORY",
		Fields: []schema.FieldDef{
			{Name: "name", Type: schema.TypeString, Default: "default_name", NullPolicy: schema.NullAsMissing},
		},
	}
	product := schema.TableConfig{
		Name: "PRODUCT",
		Fields: []schema.FieldDef{
			{Name: "name", Type: schema.TypeString},
			{Name: "price", Type: schema.TypeNumber, Default: 0.0},
			{Name: "category_fk", Type: schema.TypeNumber, Optional: true},
			{Name: "added", Type: schema.TypeDate, Optional: true},
		},
	}
	order := schema.TableConfig{
		Name: "ORDER",
		Fields: []schema.FieldDef{
			{Name: "customer", Type: schema.TypeString},
			{Name: "placed", Type: schema.TypeDate, Optional: true},
			{Name: "paid", Type: schema.TypeBoolean, Default: false},
		},
	}
	detail := schema.DeriveJunctionConfig("ORDER_DETAIL", order, product, []schema.FieldDef{
		{Name: "quantity", Type: schema.TypeNumber, Default: 1.0},
	})
	return []schema.TableConfig{category, product, order, detail}
}

// DemoSchemaCUE is DemoTables written as a CUE schema file.
const DemoSchemaCUE = `
table: CATEGORY: fields: name: {type: "string", default: "default_name", null: "missing"}

table: PRODUCT: fields: {
	name:        "string"
	price:       {type: "number", default: 0}
	category_fk: {type: "number", optional: true}
	added:       {type: "date", optional: true}
}

table: ORDER: fields: {
	customer: "string"
	placed:   {type: "date", optional: true}
	paid:     {type: "boolean", default: false}
}

junction: ORDER_DETAIL: {
	left:  "ORDER"
	right: "PRODUCT"
	fields: quantity: {type: "number", default: 1}
}
`
