package estore

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// dateFormat is the lenient format set shared by every date field. The
// source system delivers timestamps in several shapes; unparseable values
// are kept but not indexed (ignore_malformed).
const dateFormat = "strict_date_optional_time||yyyy-MM-dd'T'HH:mm:ssxxx||yyyy-MM-dd HH:mm:ss||yyyy-MM-dd||epoch_millis"

type properties map[string]interface{}

func date() map[string]interface{} {
	return map[string]interface{}{
		"type":             "date",
		"format":           dateFormat,
		"ignore_malformed": true,
	}
}

func keyword() map[string]interface{} {
	return map[string]interface{}{"type": "keyword"}
}

func text() map[string]interface{} {
	return map[string]interface{}{"type": "text"}
}

// textKeyword is analyzed text with a raw keyword sub-field for exact
// matches and aggregations.
func textKeyword() map[string]interface{} {
	return map[string]interface{}{
		"type":   "text",
		"fields": map[string]interface{}{"keyword": keyword()},
	}
}

func boolean() map[string]interface{} {
	return map[string]interface{}{"type": "boolean"}
}

func nested() map[string]interface{} {
	return map[string]interface{}{"type": "nested"}
}

func body(props properties) map[string]interface{} {
	return map[string]interface{}{
		"mappings": map[string]interface{}{"properties": props},
	}
}

// primaryMapping is the wide work-order document: the master scalars plus
// one nested field per satellite table.
func primaryMapping() map[string]interface{} {
	return body(properties{
		"Id":                      keyword(),
		"AppCode":                 keyword(),
		"SourceType":              keyword(),
		"OrderType":               keyword(),
		"CreateType":              keyword(),
		"ServiceProviderCode":     keyword(),
		"WorkStatus":              keyword(),
		"CustomerId":              keyword(),
		"CustomerName":            textKeyword(),
		"CustStoreId":             keyword(),
		"CustStoreName":           textKeyword(),
		"CustStoreCode":           keyword(),
		"PreCustStoreId":          keyword(),
		"PreCustStoreName":        textKeyword(),
		"CustSettleId":            keyword(),
		"CustSettleName":          textKeyword(),
		"IsCustomer":              text(),
		"CustCoopType":            keyword(),
		"ProCode":                 keyword(),
		"ProName":                 textKeyword(),
		"CityCode":                keyword(),
		"CityName":                textKeyword(),
		"AreaCode":                keyword(),
		"AreaName":                textKeyword(),
		"InstallAddress":          text(),
		"InstallTime":             date(),
		"RequiredTime":            date(),
		"LinkMan":                 text(),
		"LinkTel":                 keyword(),
		"SecondLinkTel":           keyword(),
		"SecondLinkMan":           text(),
		"WarehouseId":             keyword(),
		"WarehouseName":           text(),
		"Remark":                  text(),
		"IsUrgent":                text(),
		"CustUniqueSign":          keyword(),
		"CreatePersonCode":        keyword(),
		"CreatePersonName":        text(),
		"EffectiveTime":           date(),
		"EffectiveSuccessfulTime": date(),
		"CreatedById":             keyword(),
		"CreatedAt":               date(),
		"UpdatedById":             keyword(),
		"UpdatedAt":               date(),
		"DeletedById":             keyword(),
		"DeletedAt":               date(),
		"Deleted":                 text(),
		"LastUpdateTimeStamp":     date(),
		"StatusInfo":              nested(),
		"CarInfo":                 nested(),
		"ServiceInfo":             nested(),
		"RecordInfo":              nested(),
		"AppointInfo":             nested(),
		"ConcatInfo":              nested(),
		"JsonInfo":                nested(),
		"ColumnInfo":              nested(),
		"SigninInfo":              nested(),
	})
}

func operatingMapping() map[string]interface{} {
	return body(properties{
		"Id":          keyword(),
		"WorkOrderId": keyword(),
		"AppCode":     keyword(),
		"OperId":      keyword(),
		"OperCode":    textKeyword(),
		"OperName":    textKeyword(),
		"TagType":     text(),
		"InsertTime":  date(),
		"Deleted":     text(),
	})
}

func custConfigMapping() map[string]interface{} {
	return body(properties{
		"Id":           keyword(),
		"CustomerId":   keyword(),
		"CustomerName": textKeyword(),
		"ConfigType":   keyword(),
		"ConfigKey":    keyword(),
		"ConfigValue":  text(),
		"Remark":       text(),
		"IsEnabled":    boolean(),
		"CreatedById":  keyword(),
		"CreatedAt":    date(),
		"UpdatedById":  keyword(),
		"UpdatedAt":    date(),
		"DeletedById":  keyword(),
		"DeletedAt":    date(),
		"Deleted":      boolean(),
	})
}

// EnsureIndexes creates the primary and side indexes with their mappings.
// Existing indexes are left alone unless recreate is set, in which case
// they are dropped and built fresh.
func (s *Store) EnsureIndexes(ctx context.Context, recreate bool) error {
	indexes := []struct {
		name string
		body map[string]interface{}
	}{
		{s.index, primaryMapping()},
		{SideIndexOperating, operatingMapping()},
		{SideIndexCustConfig, custConfigMapping()},
	}
	for _, ix := range indexes {
		if err := s.ensureIndex(ctx, ix.name, ix.body, recreate); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureIndex(ctx context.Context, name string, mapping map[string]interface{}, recreate bool) error {
	octx, cancel := s.opCtx(ctx)
	defer cancel()

	exists, err := s.client.IndexExists(name).Do(octx)
	if err != nil {
		return errors.Wrapf(err, "check index %s", name)
	}
	if exists && recreate {
		if _, err := s.client.DeleteIndex(name).Do(octx); err != nil {
			return errors.Wrapf(err, "drop index %s", name)
		}
		log.WithField("index", name).Info("dropped existing index")
		exists = false
	}
	if exists {
		log.WithField("index", name).Debug("index already present")
		return nil
	}
	if _, err := s.client.CreateIndex(name).BodyJson(mapping).Do(octx); err != nil {
		return errors.Wrapf(err, "create index %s", name)
	}
	log.WithField("index", name).Info("index created")
	return nil
}
