package appointment

// BookAt exposes the bookAt test helper to the external appointment_test package.
var BookAt = bookAt
