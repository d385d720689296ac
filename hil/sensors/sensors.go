// Package sensors holds contracts for environment sensors.
package sensors

// HumidityClient receives a reading in hundredths of a percent.
type HumidityClient interface {
	HumidityReady(centiPercent uint32, err error)
}

type HumidityDriver interface {
	SetHumidityClient(HumidityClient)
	ReadHumidity() error
}

// TemperatureClient receives a reading in hundredths of a degree Celsius.
type TemperatureClient interface {
	TemperatureReady(centiC int32, err error)
}

type TemperatureDriver interface {
	SetTemperatureClient(TemperatureClient)
	ReadTemperature() error
}
