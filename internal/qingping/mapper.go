package qingping

import "time"

// NormalizedReading is a provider sample translated into the internal
// shape. Every metric is optional; Ts keeps the provider's unit (the
// ingestion engine disambiguates seconds from milliseconds).
type NormalizedReading struct {
	Ts       int64
	PM25     *float64
	PM10     *float64
	CO2      *float64
	TempC    *float64
	Humidity *float64
	TVOC     *float64
	Pressure *float64
	Battery  *int
}

// DeviceIdentity is the provider device metadata the registry cares about.
type DeviceIdentity struct {
	ProviderDeviceID string
	Name             string
	Model            string
	Timezone         string
	Offline          bool
	ReportInterval   int
}

// MapReading translates one provider sample. Returns nil when data is
// absent, which distinguishes "no sample this cycle" from a zero-valued
// sample. The timestamp defaults to now only when the provider omitted it.
func MapReading(data DeviceData, now time.Time) *NormalizedReading {
	if len(data) == 0 {
		return nil
	}

	r := &NormalizedReading{}
	if ts, ok := data["timestamp"]; ok {
		r.Ts = int64(ts.Value)
	} else {
		r.Ts = now.UnixMilli()
	}

	r.PM25 = metric(data, "pm25")
	r.PM10 = metric(data, "pm10")
	r.CO2 = metric(data, "co2")
	r.TempC = metric(data, "temperature")
	r.Humidity = metric(data, "humidity")
	r.TVOC = metric(data, "tvoc")
	r.Pressure = metric(data, "pressure")
	if b, ok := data["battery"]; ok {
		level := int(b.Value)
		r.Battery = &level
	}
	return r
}

// MapDevice translates provider device metadata, falling back to the
// MAC as the display name when the provider has no human name set.
func MapDevice(info DeviceInfo) DeviceIdentity {
	name := info.Name
	if name == "" {
		name = info.MAC
	}
	return DeviceIdentity{
		ProviderDeviceID: info.MAC,
		Name:             name,
		Model:            info.Product.EnName,
		Timezone:         info.Timezone,
		Offline:          info.Status.Offline,
		ReportInterval:   info.Setting.ReportInterval,
	}
}

func metric(data DeviceData, key string) *float64 {
	if v, ok := data[key]; ok {
		value := v.Value
		return &value
	}
	return nil
}
