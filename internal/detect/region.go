package detect

import (
	"fmt"
	"net"
)

// RegionFunc отображает IP-адрес в строковый идентификатор "региона".
// Пустая строка означает "регион неизвестен" — детекторы местоположения
// в этом случае молчат.
type RegionFunc func(addr string) string

// CoarseRegion — грубая аппроксимация без внешней геобазы: два старших
// октета IPv4. Для IPv6 и мусора возвращает "".
func CoarseRegion(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return ""
	}
	v4 := ip.To4()
	if v4 == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d", v4[0], v4[1])
}
