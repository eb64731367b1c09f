package hap

import (
	"fmt"

	"github.com/backkem/hap/pkg/datamodel"
)

// AccessoryInfo is the static information every accessory advertises
// through its AccessoryInformation service.
type AccessoryInfo struct {
	Name             string
	Manufacturer     string
	Model            string
	SerialNumber     string
	FirmwareRevision string
}

// AddAccessory declares an accessory carrying the mandatory
// information and protocol services, returning it for service
// declaration. The first call creates accessory 1.
func (d *Device) AddAccessory(info AccessoryInfo) (*datamodel.Accessory, error) {
	a := d.db.AddAccessory()

	infoSvc := a.AddService(datamodel.ServiceAccessoryInformation)
	for _, c := range []struct {
		typ string
		val datamodel.Value
	}{
		{datamodel.TypeIdentify, datamodel.BoolValue(false)},
		{datamodel.TypeManufacturer, datamodel.StringValue(info.Manufacturer)},
		{datamodel.TypeModel, datamodel.StringValue(info.Model)},
		{datamodel.TypeName, datamodel.StringValue(info.Name)},
		{datamodel.TypeSerialNumber, datamodel.StringValue(info.SerialNumber)},
		{datamodel.TypeFirmwareRevision, datamodel.StringValue(info.FirmwareRevision)},
	} {
		if _, err := a.AddCharacteristic(infoSvc, c.typ, c.val); err != nil {
			return nil, fmt.Errorf("hap: information service: %w", err)
		}
	}

	protoSvc := a.AddService(datamodel.ServiceProtocolInformation)
	if _, err := a.AddCharacteristic(protoSvc, datamodel.TypeVersion, datamodel.StringValue("1.1.0")); err != nil {
		return nil, fmt.Errorf("hap: protocol service: %w", err)
	}
	return a, nil
}
