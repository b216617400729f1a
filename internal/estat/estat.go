// Package estat implements the atomic counters of spec §6.4/§6.6 and
// exposes them to Prometheus.
//
// Grounded on original_source/drivers/block/zram/expandmem/
// eswap_common.h's struct eswap_stat (the field list below follows it
// field-for-field) and eswap_stats.c for which counters are globally
// visible versus per-group; the Collector itself follows the shape of
// talyz-systemd_exporter's systemd.Collector (a struct of
// *prometheus.Desc fields built once in a constructor, a Describe that
// sends every Desc, and a Collect that reads the live counters).
package estat

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats holds the global, instance-wide counters.
type Stats struct {
	ReclaimInCount    atomic.Int64
	ReclaimInBytes    atomic.Int64
	ReclaimInPages    atomic.Int64
	ReclaimInInflight atomic.Int64
	FaultOutCount     atomic.Int64
	FaultOutBytes     atomic.Int64
	FaultOutPages     atomic.Int64
	FaultCheckCount   atomic.Int64
	EswapFaultCount   atomic.Int64
	ReoutPages        atomic.Int64
	ReoutBytes        atomic.Int64
	ZramStoredPages   atomic.Int64
	ZramStoredSize    atomic.Int64
	StoredPages       atomic.Int64
	StoredSize        atomic.Int64
	NotifyFree        atomic.Int64
	FragCount         atomic.Int64
	GroupCount        atomic.Int64
	ExtentCount       atomic.Int64
}

// New returns a zeroed Stats block.
func New() *Stats { return &Stats{} }

const namespace = "eswap"

// Collector adapts a Stats block to prometheus.Collector.
type Collector struct {
	stats *Stats

	reclaimInCountDesc    *prometheus.Desc
	reclaimInBytesDesc    *prometheus.Desc
	reclaimInPagesDesc    *prometheus.Desc
	reclaimInInflightDesc *prometheus.Desc
	faultOutCountDesc     *prometheus.Desc
	faultOutBytesDesc     *prometheus.Desc
	faultOutPagesDesc     *prometheus.Desc
	zramStoredPagesDesc   *prometheus.Desc
	zramStoredSizeDesc    *prometheus.Desc
	storedPagesDesc       *prometheus.Desc
	storedSizeDesc        *prometheus.Desc
	notifyFreeDesc        *prometheus.Desc
	fragCountDesc         *prometheus.Desc
	groupCountDesc        *prometheus.Desc
	extentCountDesc       *prometheus.Desc
}

// NewCollector wires desc metadata once, following NewCollector's
// build-every-Desc-up-front shape in talyz-systemd_exporter.
func NewCollector(stats *Stats) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		stats:                 stats,
		reclaimInCountDesc:    desc("reclaim_in_total", "Reclaim-in operations issued."),
		reclaimInBytesDesc:    desc("reclaim_in_bytes_total", "Bytes written back by reclaim-in."),
		reclaimInPagesDesc:    desc("reclaim_in_pages_total", "Pages written back by reclaim-in."),
		reclaimInInflightDesc: desc("reclaim_in_inflight", "Reclaim-in pages currently inflight."),
		faultOutCountDesc:     desc("fault_out_total", "Fault-out operations issued."),
		faultOutBytesDesc:     desc("fault_out_bytes_total", "Bytes read back by fault-out."),
		faultOutPagesDesc:     desc("fault_out_pages_total", "Pages read back by fault-out."),
		zramStoredPagesDesc:   desc("zram_stored_pages", "Pages currently resident in zram."),
		zramStoredSizeDesc:    desc("zram_stored_bytes", "Compressed bytes currently resident in zram."),
		storedPagesDesc:       desc("stored_pages", "Pages currently spilled to disk."),
		storedSizeDesc:        desc("stored_bytes", "Compressed bytes currently spilled to disk."),
		notifyFreeDesc:        desc("notify_free_total", "Extents freed via notify-free."),
		fragCountDesc:         desc("fragmentation_events_total", "Extent packing fragmentation events."),
		groupCountDesc:        desc("groups", "Live resource groups."),
		extentCountDesc:       desc("extents_allocated", "Currently allocated extents."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reclaimInCountDesc
	ch <- c.reclaimInBytesDesc
	ch <- c.reclaimInPagesDesc
	ch <- c.reclaimInInflightDesc
	ch <- c.faultOutCountDesc
	ch <- c.faultOutBytesDesc
	ch <- c.faultOutPagesDesc
	ch <- c.zramStoredPagesDesc
	ch <- c.zramStoredSizeDesc
	ch <- c.storedPagesDesc
	ch <- c.storedSizeDesc
	ch <- c.notifyFreeDesc
	ch <- c.fragCountDesc
	ch <- c.groupCountDesc
	ch <- c.extentCountDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v int64) prometheus.Metric {
		return prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	gauge := func(desc *prometheus.Desc, v int64) prometheus.Metric {
		return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v))
	}
	ch <- counter(c.reclaimInCountDesc, c.stats.ReclaimInCount.Load())
	ch <- counter(c.reclaimInBytesDesc, c.stats.ReclaimInBytes.Load())
	ch <- counter(c.reclaimInPagesDesc, c.stats.ReclaimInPages.Load())
	ch <- gauge(c.reclaimInInflightDesc, c.stats.ReclaimInInflight.Load())
	ch <- counter(c.faultOutCountDesc, c.stats.FaultOutCount.Load())
	ch <- counter(c.faultOutBytesDesc, c.stats.FaultOutBytes.Load())
	ch <- counter(c.faultOutPagesDesc, c.stats.FaultOutPages.Load())
	ch <- gauge(c.zramStoredPagesDesc, c.stats.ZramStoredPages.Load())
	ch <- gauge(c.zramStoredSizeDesc, c.stats.ZramStoredSize.Load())
	ch <- gauge(c.storedPagesDesc, c.stats.StoredPages.Load())
	ch <- gauge(c.storedSizeDesc, c.stats.StoredSize.Load())
	ch <- counter(c.notifyFreeDesc, c.stats.NotifyFree.Load())
	ch <- counter(c.fragCountDesc, c.stats.FragCount.Load())
	ch <- gauge(c.groupCountDesc, c.stats.GroupCount.Load())
	ch <- gauge(c.extentCountDesc, c.stats.ExtentCount.Load())
}
