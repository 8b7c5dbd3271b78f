package xfsformat

// Divide does ceiling integer division.
func Divide(x, y int64) int64 {
	return (x + y - 1) / y
}

// Align rounds x up to the next multiple of y.
func Align(x, y int64) int64 {
	return Divide(x, y) * y
}
