package scorer

import "time"

// nowFunc 可在测试中替换，保证衰减计算可控。
var nowFunc = time.Now
