package retrieve

import "time"

// nowFunc is the clock touch stamps entries with; it is a variable so a
// test can substitute a fixed time.
var nowFunc = time.Now
