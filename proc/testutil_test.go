package proc

import "github.com/Qwinci/crescent-sub002/pagemap"

func pagemapNewKernelForTest() *pagemap.PageMap {
	return pagemap.New(nil)
}
