package valve

// litersPerGallon is the number of liters in one US gallon.
const litersPerGallon = 3.78541

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// FahrenheitToCelsius converts °F to °C.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// GallonsToLiters converts US gallons to liters.
func GallonsToLiters(gallons float64) float64 {
	return gallons * litersPerGallon
}

// LitersToGallons converts liters to US gallons.
func LitersToGallons(liters float64) float64 {
	return liters / litersPerGallon
}
