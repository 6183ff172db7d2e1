package projector

import (
	"github.com/wideorder/widesync/internal/estore"
)

// Source table names the backfill engine treats specially: the JSON
// satellite is selected with an explicit column list, and the customer
// special config is loaded in full rather than per work order.
const (
	MasterTable     = "tb_workorderinfo"
	JSONTable       = "tb_workbussinessjsoninfo"
	CustConfigTable = "basic_custspecialconfig"
)

// Kind classifies how a source table lands in the document store.
type Kind int

const (
	// KindMaster rows become the scalar header fields of the wide document.
	KindMaster Kind = iota
	// KindNested rows become entries of a nested array field on the wide
	// document identified by their WorkOrderId.
	KindNested
	// KindSide rows become standalone documents in their own index.
	KindSide
)

// Table describes how one source table is projected. The differences
// between tables are data, not types: every table is handled by the same
// three code paths, parameterized by this descriptor.
type Table struct {
	Name    string   // source table name
	Kind    Kind
	Field   string   // nested array field on the wide document (KindNested)
	Index   string   // destination index (KindSide)
	Parent  string   // column carrying the destination document id
	Strings []string // columns coerced to strings after normalization
	Columns []string // whitelist copied into the entry or patch
}

// tables is the projection registry: the master work-order table, nine
// satellite tables nested under it, and two independently indexed tables.
var tables = []Table{
	{
		Name:    MasterTable,
		Kind:    KindMaster,
		Parent:  "Id",
		Strings: []string{"Id"},
		Columns: []string{
			"Id", "AppCode", "SourceType", "OrderType", "CreateType",
			"ServiceProviderCode", "WorkStatus", "CustomerId", "CustomerName",
			"CustStoreId", "CustStoreName", "CustStoreCode", "PreCustStoreId",
			"PreCustStoreName", "CustSettleId", "CustSettleName", "IsCustomer",
			"CustCoopType", "ProCode", "ProName", "CityCode", "CityName",
			"AreaCode", "AreaName", "InstallAddress", "InstallTime",
			"RequiredTime", "LinkMan", "LinkTel", "SecondLinkTel",
			"SecondLinkMan", "WarehouseId", "WarehouseName", "Remark",
			"IsUrgent", "CustUniqueSign", "CreatePersonCode",
			"CreatePersonName", "EffectiveTime", "EffectiveSuccessfulTime",
			"CreatedById", "CreatedAt", "UpdatedById", "UpdatedAt",
			"DeletedById", "DeletedAt", "Deleted", "LastUpdateTimeStamp",
		},
	},
	{
		Name:   "tb_workorderstatus",
		Kind:   KindNested,
		Field:  "StatusInfo",
		Parent: "WorkOrderId",
		Columns: []string{
			"WorkStatus", "WorkStatusCode", "NodeCode", "StepStatus",
			"StepName", "PreStepStatus", "PreStepName", "IfUninstall",
			"TypeStatus", "SuspendStatus", "IsSwitch", "IsMixPreOrder",
			"ClosePersonName", "ClosePersonCode", "ClosedAt", "IsMigration",
			"AuditStatus", "Remark", "CloseReasonCode", "CloseReasonName",
			"CreatedAt", "CreatedById", "UpdatedById", "UpdatedAt",
			"DeletedById", "DeletedAt", "Deleted",
		},
	},
	{
		Name:   "tb_workcarinfo",
		Kind:   KindNested,
		Field:  "CarInfo",
		Parent: "WorkOrderId",
		Columns: []string{
			"VinNumber", "PlateNumber", "PlateColor", "EngineNumber",
			"CarModelId", "CarModelName", "CarSeriesId", "CarSeriesName",
			"CarBrandId", "CarBrandName", "CarFullName", "Color", "CarPrice",
			"IsNewCar", "CarType", "UserName", "UserTel", "UserCityCode",
			"UserCityName", "UserAddress", "Remark", "ShortVin",
			"ShortFourVin", "CreatedById", "CreatedAt", "UpdatedById",
			"UpdatedAt", "DeletedById", "DeletedAt", "Deleted",
		},
	},
	{
		Name:   "tb_workserviceinfo",
		Kind:   KindNested,
		Field:  "ServiceInfo",
		Parent: "WorkOrderId",
		Columns: []string{
			"ServiceType", "AreaType", "Privoder", "InstitutionCode",
			"IsSelfService", "ServiceId", "ServiceCode", "ServiceName",
			"WorkerId", "WorkerCode", "WorkerName", "IsPreInstall",
			"CarServiceRelation", "CompleteTime", "Remark", "CreatedById",
			"CreatedAt", "UpdatedById", "UpdatedAt", "DeletedById",
			"DeletedAt", "Deleted", "LastUpdateTimeStamp",
		},
	},
	{
		Name:   "tb_recordinfo",
		Kind:   KindNested,
		Field:  "RecordInfo",
		Parent: "WorkOrderId",
		Columns: []string{
			"RecordType", "RecordContent", "CreatedById", "CreatedAt",
			"UpdatedById", "UpdatedAt", "DeletedById", "DeletedAt", "Deleted",
		},
	},
	{
		Name:   "tb_appointment",
		Kind:   KindNested,
		Field:  "AppointInfo",
		Parent: "WorkOrderId",
		Columns: []string{
			"AppCode", "AppointStatus", "AppointSource", "OrderTime",
			"AppointTime", "OperatorCode", "OperatorName", "FailCode",
			"FailText", "ApplyReason", "ApplyCode", "ProCode", "ProName",
			"CityCode", "CityName", "AreaCode", "AreaName", "NextContactTime",
			"InstallAddress", "ChangeRemark", "Remark", "ExtraJson",
			"CreatedById", "CreatedAt", "UpdatedById", "UpdatedAt",
			"DeletedById", "DeletedAt", "Deleted",
		},
	},
	{
		Name:   "tb_appointmentconcat",
		Kind:   KindNested,
		Field:  "ConcatInfo",
		Parent: "WorkOrderId",
		Columns: []string{
			"FirstAppointTime", "FirstSubmitTime", "CorrectiveAppointTime",
			"LastRemark", "AppCode", "AppointStatus", "LastAppointTime",
			"RemarkConcat", "CustRemarkConcat", "CallRemarkConcat",
			"ApplyReason", "ApplyCode", "CreatedById", "CreatedAt",
			"UpdatedById", "UpdatedAt", "DeletedById", "DeletedAt", "Deleted",
		},
	},
	{
		Name:    JSONTable,
		Kind:    KindNested,
		Field:   "JsonInfo",
		Parent:  "WorkOrderId",
		Columns: []string{"BussinessJson", "InsertTime", "Deleted"},
	},
	{
		Name:   "tb_custcolumn",
		Kind:   KindNested,
		Field:  "ColumnInfo",
		Parent: "WorkOrderId",
		Columns: []string{
			"ColumnName", "ColumnValue", "CreatedAt", "CreatedById",
			"UpdatedById", "UpdatedAt", "DeletedById", "DeletedAt", "Deleted",
		},
	},
	{
		Name:   "tb_worksignininfo",
		Kind:   KindNested,
		Field:  "SigninInfo",
		Parent: "WorkOrderId",
		Columns: []string{
			"OrgCode", "SignType", "SignTime", "SignLng", "SignLat",
			"SignAddr", "OriginalAddr", "SignAddrDistance", "LastSignDistance",
			"InitialLng", "InitialLat", "IMEI", "Remark", "CreatedById",
			"CreatedAt", "UpdatedById", "UpdatedAt", "DeletedById",
			"DeletedAt", "Deleted",
		},
	},
	{
		Name:    "tb_operatinginfo",
		Kind:    KindSide,
		Index:   estore.SideIndexOperating,
		Parent:  "Id",
		Strings: []string{"Id", "WorkOrderId"},
		Columns: []string{
			"Id", "WorkOrderId", "OperId", "AppCode", "OperCode", "OperName",
			"TagType", "InsertTime", "Deleted",
		},
	},
	{
		Name:    CustConfigTable,
		Kind:    KindSide,
		Index:   estore.SideIndexCustConfig,
		Parent:  "Id",
		Strings: []string{"Id", "CustomerId"},
		Columns: []string{
			"Id", "CustomerId", "CustomerName", "ConfigType", "ConfigKey",
			"ConfigValue", "Remark", "IsEnabled", "CreatedById", "CreatedAt",
			"UpdatedById", "UpdatedAt", "DeletedById", "DeletedAt", "Deleted",
		},
	},
}

// Tables returns the projection registry keyed by source table name.
func Tables() map[string]*Table {
	m := make(map[string]*Table, len(tables))
	for i := range tables {
		m[tables[i].Name] = &tables[i]
	}
	return m
}

// TableNames returns the source table names in registry order. The
// backfill engine iterates these when loading a historical window.
func TableNames() []string {
	names := make([]string, len(tables))
	for i := range tables {
		names[i] = tables[i].Name
	}
	return names
}
